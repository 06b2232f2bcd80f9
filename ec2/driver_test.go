package ec2

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/warden/platform"
	"github.com/example/warden/types"
)

// mockAPI implements API for testing
type mockAPI struct {
	describeFunc  func(ctx context.Context, params *awsec2.DescribeInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error)
	stopFunc      func(ctx context.Context, params *awsec2.StopInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.StopInstancesOutput, error)
	terminateFunc func(ctx context.Context, params *awsec2.TerminateInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.TerminateInstancesOutput, error)
}

func (m *mockAPI) DescribeInstances(ctx context.Context, params *awsec2.DescribeInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error) {
	if m.describeFunc != nil {
		return m.describeFunc(ctx, params, optFns...)
	}
	return &awsec2.DescribeInstancesOutput{}, nil
}

func (m *mockAPI) StopInstances(ctx context.Context, params *awsec2.StopInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.StopInstancesOutput, error) {
	if m.stopFunc != nil {
		return m.stopFunc(ctx, params, optFns...)
	}
	return &awsec2.StopInstancesOutput{}, nil
}

func (m *mockAPI) TerminateInstances(ctx context.Context, params *awsec2.TerminateInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.TerminateInstancesOutput, error) {
	if m.terminateFunc != nil {
		return m.terminateFunc(ctx, params, optFns...)
	}
	return &awsec2.TerminateInstancesOutput{}, nil
}

// codedError mimics the SDK's coded API errors
type codedError struct{ code string }

func (e *codedError) Error() string     { return e.code }
func (e *codedError) ErrorCode() string { return e.code }

func testInstance(state ec2types.InstanceStateName) ec2types.Instance {
	return ec2types.Instance{
		InstanceId:       aws.String("i-abc123"),
		InstanceType:     ec2types.InstanceTypeT3Micro,
		ImageId:          aws.String("ami-0fe1"),
		State:            &ec2types.InstanceState{Name: state},
		Placement:        &ec2types.Placement{AvailabilityZone: aws.String("us-east-1a")},
		VpcId:            aws.String("vpc-123"),
		SubnetId:         aws.String("subnet-456"),
		PrivateIpAddress: aws.String("10.0.0.1"),
		CpuOptions:       &ec2types.CpuOptions{CoreCount: aws.Int32(2), ThreadsPerCore: aws.Int32(2)},
		Tags: []ec2types.Tag{
			{Key: aws.String("Name"), Value: aws.String("batch-worker")},
			{Key: aws.String("env"), Value: aws.String("prod")},
		},
	}
}

func describeReturning(instances ...ec2types.Instance) *mockAPI {
	return &mockAPI{
		describeFunc: func(_ context.Context, _ *awsec2.DescribeInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error) {
			return &awsec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{Instances: instances}},
			}, nil
		},
	}
}

func TestDriver_Inspect(t *testing.T) {
	driver := NewWithAPI(describeReturning(testInstance(ec2types.InstanceStateNameRunning)), "us-east-1")

	state, err := driver.Inspect(context.Background(), types.Handle{Node: "us-east-1", ID: "i-abc123"})

	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, state.Status)
	assert.Equal(t, "running", state.Raw)
	assert.Equal(t, "prod", state.Labels["env"])
	assert.Equal(t, 4, state.Resources.CPUCount)
}

func TestDriver_InspectStateMapping(t *testing.T) {
	tests := []struct {
		ec2State ec2types.InstanceStateName
		want     types.Status
	}{
		{ec2types.InstanceStateNamePending, types.StatusProvisioning},
		{ec2types.InstanceStateNameRunning, types.StatusRunning},
		{ec2types.InstanceStateNameStopping, types.StatusRunning},
		{ec2types.InstanceStateNameStopped, types.StatusStopped},
		{ec2types.InstanceStateNameShuttingDown, types.StatusRemoving},
	}

	for _, tt := range tests {
		t.Run(string(tt.ec2State), func(t *testing.T) {
			driver := NewWithAPI(describeReturning(testInstance(tt.ec2State)), "us-east-1")
			state, err := driver.Inspect(context.Background(), types.Handle{Node: "us-east-1", ID: "i-abc123"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, state.Status)
		})
	}
}

func TestDriver_InspectTerminatedIsAbsent(t *testing.T) {
	driver := NewWithAPI(describeReturning(testInstance(ec2types.InstanceStateNameTerminated)), "us-east-1")

	_, err := driver.Inspect(context.Background(), types.Handle{Node: "us-east-1", ID: "i-abc123"})

	assert.ErrorIs(t, err, platform.ErrNotFound)
}

func TestDriver_InspectMissingInstance(t *testing.T) {
	mock := &mockAPI{
		describeFunc: func(_ context.Context, _ *awsec2.DescribeInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error) {
			return nil, &codedError{code: "InvalidInstanceID.NotFound"}
		},
	}
	driver := NewWithAPI(mock, "us-east-1")

	_, err := driver.Inspect(context.Background(), types.Handle{Node: "us-east-1", ID: "i-gone"})

	assert.ErrorIs(t, err, platform.ErrNotFound)
}

func TestDriver_InspectEmptyReservations(t *testing.T) {
	driver := NewWithAPI(&mockAPI{}, "us-east-1")

	_, err := driver.Inspect(context.Background(), types.Handle{Node: "us-east-1", ID: "i-abc123"})

	assert.ErrorIs(t, err, platform.ErrNotFound)
}

func TestDriver_InspectTransportFailure(t *testing.T) {
	mock := &mockAPI{
		describeFunc: func(_ context.Context, _ *awsec2.DescribeInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error) {
			return nil, errors.New("dial tcp: i/o timeout")
		},
	}
	driver := NewWithAPI(mock, "us-east-1")

	_, err := driver.Inspect(context.Background(), types.Handle{Node: "us-east-1", ID: "i-abc123"})

	assert.True(t, platform.IsUnreachable(err), "transport failure must classify as unreachable, got %v", err)
	assert.False(t, platform.IsNotFound(err))
}

func TestDriver_InspectThrottled(t *testing.T) {
	mock := &mockAPI{
		describeFunc: func(_ context.Context, _ *awsec2.DescribeInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error) {
			return nil, &codedError{code: "RequestLimitExceeded"}
		},
	}
	driver := NewWithAPI(mock, "us-east-1")

	_, err := driver.Inspect(context.Background(), types.Handle{Node: "us-east-1", ID: "i-abc123"})

	assert.True(t, platform.IsUnreachable(err), "throttling must classify as unreachable, got %v", err)
}

func TestDriver_StopAlreadyStopped(t *testing.T) {
	mock := &mockAPI{
		stopFunc: func(_ context.Context, _ *awsec2.StopInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.StopInstancesOutput, error) {
			return nil, &codedError{code: "IncorrectInstanceState"}
		},
	}
	driver := NewWithAPI(mock, "us-east-1")

	err := driver.Stop(context.Background(), types.Handle{Node: "us-east-1", ID: "i-abc123"})

	assert.NoError(t, err)
}

func TestDriver_Destroy(t *testing.T) {
	var terminated []string
	mock := &mockAPI{
		terminateFunc: func(_ context.Context, params *awsec2.TerminateInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.TerminateInstancesOutput, error) {
			terminated = params.InstanceIds
			return &awsec2.TerminateInstancesOutput{}, nil
		},
	}
	driver := NewWithAPI(mock, "us-east-1")

	err := driver.Destroy(context.Background(), types.Handle{Node: "us-east-1", ID: "i-abc123"})

	require.NoError(t, err)
	assert.Equal(t, []string{"i-abc123"}, terminated)
}

func TestDriver_DestroyMissing(t *testing.T) {
	mock := &mockAPI{
		terminateFunc: func(_ context.Context, _ *awsec2.TerminateInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.TerminateInstancesOutput, error) {
			return nil, &codedError{code: "InvalidInstanceID.NotFound"}
		},
	}
	driver := NewWithAPI(mock, "us-east-1")

	err := driver.Destroy(context.Background(), types.Handle{Node: "us-east-1", ID: "i-gone"})

	assert.ErrorIs(t, err, platform.ErrNotFound)
}

func TestDriver_Config(t *testing.T) {
	driver := NewWithAPI(describeReturning(testInstance(ec2types.InstanceStateNameRunning)), "us-east-1")

	cfg, err := driver.Config(context.Background(), types.Handle{Node: "us-east-1", ID: "i-abc123"})

	require.NoError(t, err)
	assert.Equal(t, "t3.micro", cfg["instance_type"])
	assert.Equal(t, "ami-0fe1", cfg["image_id"])
	assert.Equal(t, "subnet-456", cfg["subnet_id"])
	assert.Equal(t, "vpc-123", cfg["vpc_id"])
	assert.Equal(t, "us-east-1a", cfg["availability_zone"])
	assert.Equal(t, "10.0.0.1", cfg["private_ip"])
	assert.Equal(t, "us-east-1", cfg["region"])
}
