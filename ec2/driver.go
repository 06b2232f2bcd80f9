// Package ec2 implements the platform driver for AWS EC2 instances.
// The handle's node part names the region; the id part is the
// instance id.
package ec2

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/example/warden/platform"
	"github.com/example/warden/types"
)

// API is the slice of the EC2 client the driver uses
type API interface {
	DescribeInstances(ctx context.Context, params *awsec2.DescribeInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error)
	StopInstances(ctx context.Context, params *awsec2.StopInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.StopInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *awsec2.TerminateInstancesInput, optFns ...func(*awsec2.Options)) (*awsec2.TerminateInstancesOutput, error)
}

// Driver talks to EC2 about one instance at a time
type Driver struct {
	api    API
	region string
}

var _ platform.Client = (*Driver)(nil)

// New creates an EC2 driver using the ambient AWS credentials
func New(ctx context.Context, region string) (*Driver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Driver{api: awsec2.NewFromConfig(awsCfg), region: region}, nil
}

// NewWithAPI creates a driver around an existing client
func NewWithAPI(api API, region string) *Driver {
	return &Driver{api: api, region: region}
}

// Inspect returns the instance's state. Terminated instances linger in
// the API for a while; they count as absent.
func (d *Driver) Inspect(ctx context.Context, h types.Handle) (*platform.State, error) {
	inst, err := d.describe(ctx, h)
	if err != nil {
		return nil, err
	}

	name := inst.State.Name
	return &platform.State{
		Status:    mapState(name),
		Raw:       string(name),
		Labels:    tagsToLabels(inst.Tags),
		Resources: instanceResources(inst),
	}, nil
}

// Stop requests a graceful shutdown. An instance that cannot be
// stopped because it already is counts as stopped.
func (d *Driver) Stop(ctx context.Context, h types.Handle) error {
	_, err := d.api.StopInstances(ctx, &awsec2.StopInstancesInput{
		InstanceIds: []string{h.ID},
	})
	if errorCode(err) == "IncorrectInstanceState" {
		return nil
	}
	return d.classify(err)
}

// Destroy terminates the instance
func (d *Driver) Destroy(ctx context.Context, h types.Handle) error {
	_, err := d.api.TerminateInstances(ctx, &awsec2.TerminateInstancesInput{
		InstanceIds: []string{h.ID},
	})
	return d.classify(err)
}

// Config captures the instance's launch configuration
func (d *Driver) Config(ctx context.Context, h types.Handle) (map[string]string, error) {
	inst, err := d.describe(ctx, h)
	if err != nil {
		return nil, err
	}

	cfg := map[string]string{
		"instance_type": string(inst.InstanceType),
		"image_id":      aws.ToString(inst.ImageId),
		"region":        d.region,
	}
	if inst.SubnetId != nil {
		cfg["subnet_id"] = aws.ToString(inst.SubnetId)
	}
	if inst.VpcId != nil {
		cfg["vpc_id"] = aws.ToString(inst.VpcId)
	}
	if inst.KeyName != nil {
		cfg["key_name"] = aws.ToString(inst.KeyName)
	}
	if inst.Placement != nil {
		cfg["availability_zone"] = aws.ToString(inst.Placement.AvailabilityZone)
	}
	if inst.PrivateIpAddress != nil {
		cfg["private_ip"] = aws.ToString(inst.PrivateIpAddress)
	}
	return cfg, nil
}

// describe fetches the single instance behind the handle
func (d *Driver) describe(ctx context.Context, h types.Handle) (*ec2types.Instance, error) {
	output, err := d.api.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{
		InstanceIds: []string{h.ID},
	})
	if err != nil {
		return nil, d.classify(err)
	}

	for _, reservation := range output.Reservations {
		for i := range reservation.Instances {
			inst := &reservation.Instances[i]
			if inst.State != nil && inst.State.Name == ec2types.InstanceStateNameTerminated {
				return nil, platform.ErrNotFound
			}
			return inst, nil
		}
	}
	return nil, platform.ErrNotFound
}

// classify maps SDK failures onto the platform error contract: coded
// not-found errors mean the instance is gone, transport failures and
// retryable service errors mean the platform cannot answer
func (d *Driver) classify(err error) error {
	if err == nil {
		return nil
	}

	switch errorCode(err) {
	case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed":
		return platform.ErrNotFound
	case "RequestLimitExceeded", "ServiceUnavailable", "InternalError", "Unavailable":
		return &platform.UnreachableError{Endpoint: d.region, Err: err}
	case "":
		// No API error code means the request never got an answer
		return &platform.UnreachableError{Endpoint: d.region, Err: err}
	}
	return err
}

// errorCode extracts the EC2 API error code, empty for transport errors
func errorCode(err error) string {
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}

// mapState converts EC2 instance states into the workload vocabulary
func mapState(name ec2types.InstanceStateName) types.Status {
	switch name {
	case ec2types.InstanceStateNamePending:
		return types.StatusProvisioning
	case ec2types.InstanceStateNameRunning, ec2types.InstanceStateNameStopping:
		return types.StatusRunning
	case ec2types.InstanceStateNameStopped:
		return types.StatusStopped
	case ec2types.InstanceStateNameShuttingDown:
		return types.StatusRemoving
	}
	return types.StatusError
}

// tagsToLabels flattens EC2 tags into workload labels
func tagsToLabels(tags []ec2types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	labels := make(map[string]string, len(tags))
	for _, tag := range tags {
		labels[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return labels
}

// instanceResources extracts the compute allocation where the API
// exposes it
func instanceResources(inst *ec2types.Instance) types.ResourceLimits {
	var limits types.ResourceLimits
	if inst.CpuOptions != nil {
		limits.CPUCount = int(aws.ToInt32(inst.CpuOptions.CoreCount) *
			aws.ToInt32(inst.CpuOptions.ThreadsPerCore))
	}
	return limits
}
