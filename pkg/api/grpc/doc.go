// Package grpc serves the standard gRPC health service for the batch
// manager, for load balancers and orchestration probes.
package grpc
