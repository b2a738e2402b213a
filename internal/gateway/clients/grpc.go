package clients

import (
	"context"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// WorkerClient talks to the POS reconciliation worker's health service.
type WorkerClient struct {
	Health healthpb.HealthClient
	conn   *grpc.ClientConn
}

func NewWorkerClient(addr string) (*WorkerClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("reconciliation worker connection failed: %v", err)
	}

	log.Printf("Reconciliation worker client targeting %s", addr)
	return &WorkerClient{Health: healthpb.NewHealthClient(conn), conn: conn}, nil
}

// Healthy reports whether the worker answers SERVING. A nil client is
// never healthy.
func (c *WorkerClient) Healthy(ctx context.Context) bool {
	if c == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := c.Health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (c *WorkerClient) Close() {
	if c != nil && c.conn != nil {
		c.conn.Close()
	}
}
