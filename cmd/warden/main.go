// Warden - Workload Lifecycle Reconciliation Engine
package main

func main() {
	Execute()
}
