package metrics

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	coremetrics "github.com/kilianp07/emsdispatch/core/metrics"
	"github.com/kilianp07/emsdispatch/core/model"
)

const (
	itOrg   = "ems"
	itToken = "ems-token"
)

// startInflux starts an InfluxDB 2.7 container initialised with itOrg and
// itToken and returns its base URL.
func startInflux(ctx context.Context, t *testing.T) string {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "ems",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "ems-password",
			"DOCKER_INFLUXDB_INIT_ORG":         itOrg,
			"DOCKER_INFLUXDB_INIT_BUCKET":      "default",
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": itToken,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("failed to start influx container: %v", err)
	}
	t.Cleanup(func() {
		if err := cont.Terminate(context.Background()); err != nil {
			t.Logf("terminate influx: %v", err)
		}
	})
	host, err := cont.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := cont.MappedPort(ctx, "8086")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

// setupBucket creates bucket in itOrg unless it exists.
func setupBucket(ctx context.Context, cli influxdb2.Client, bucket string) error {
	org, err := cli.OrganizationsAPI().FindOrganizationByName(ctx, itOrg)
	if err != nil {
		return fmt.Errorf("find org: %w", err)
	}
	if b, err := cli.BucketsAPI().FindBucketByName(ctx, bucket); err == nil && b != nil {
		return nil
	}
	if _, err := cli.BucketsAPI().CreateBucketWithName(ctx, org, bucket); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func countRows(ctx context.Context, cli influxdb2.Client, bucket, measurement string) (int, error) {
	flux := fmt.Sprintf(`from(bucket:%q) |> range(start:-1h) |> filter(fn: (r) => r._measurement == %q)`, bucket, measurement)
	res, err := cli.QueryAPI(itOrg).Query(ctx, flux)
	if err != nil {
		return 0, err
	}
	defer func() { _ = res.Close() }()
	n := 0
	for res.Next() {
		n++
	}
	return n, res.Err()
}

// TestInfluxSinkIntegration writes dispatch activity to a real InfluxDB and
// reads it back with Flux.
func TestInfluxSinkIntegration(t *testing.T) {
	if os.Getenv("DOCKER_AVAILABLE") != "true" && os.Getenv("DOCKER_AVAILABLE") != "1" {
		t.Skip("docker not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	url := startInflux(ctx, t)
	cli := influxdb2.NewClient(url, itToken)
	defer cli.Close()
	const bucket = "dispatch"
	if err := setupBucket(ctx, cli, bucket); err != nil {
		t.Fatalf("setup bucket: %v", err)
	}

	sink := NewInfluxSinkWithFallback(url, itToken, itOrg, bucket)
	s, ok := sink.(*InfluxSink)
	if !ok {
		t.Fatalf("expected live influx sink, got %T", sink)
	}
	defer s.Close()

	now := time.Now()
	if err := s.RecordAssignment(coremetrics.AssignmentEvent{
		IncidentID: "inc-1", VehicleID: "amb-1", Severity: model.SeverityHigh,
		Outcome: coremetrics.OutcomeAssigned, Auto: true, DistanceKm: 1.2, Time: now,
	}); err != nil {
		t.Fatalf("record assignment: %v", err)
	}
	cursor := 0.5
	if err := s.RecordPosition(model.PositionUpdate{
		VehicleID: "amb-1", Location: model.Location{Lat: 48.85, Lng: 2.35},
		Timestamp: now, Source: "simulation", Cursor: &cursor,
	}); err != nil {
		t.Fatalf("record position: %v", err)
	}

	for measurement, want := range map[string]int{"assignment": 1, "vehicle_position": 3} {
		n, err := countRows(ctx, cli, bucket, measurement)
		if err != nil {
			t.Fatalf("query %s: %v", measurement, err)
		}
		if n < want {
			t.Errorf("%s: expected at least %d rows, got %d", measurement, want, n)
		}
	}
}
