package nats

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saviobatista/arnavi-gateway/internal/testutils"
	"github.com/saviobatista/arnavi-gateway/internal/types"
)

// setupNATS starts a JetStream enabled NATS container and returns its URL
func setupNATS(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := natscontainer.Run(ctx, "nats:2.10-alpine",
		testcontainers.WithWaitStrategy(wait.ForLog("Server is ready")),
	)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate NATS container: %v", err)
		}
	})

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get NATS connection string: %v", err)
	}
	return url
}

func TestNATSClient_Integration_Connection(t *testing.T) {
	url := setupNATS(t)

	client, err := New(url, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	defer client.Close()

	if client.conn == nil || client.js == nil {
		t.Fatal("Expected connection and JetStream context to be initialized")
	}

	info, err := client.js.StreamInfo(StreamName)
	if err != nil {
		t.Fatalf("Failed to get stream info: %v", err)
	}
	if len(info.Config.Subjects) != 2 {
		t.Errorf("Expected 2 subjects, got %v", info.Config.Subjects)
	}

	// a second client reuses the existing stream
	second, err := New(url, zerolog.Nop())
	if err != nil {
		t.Fatalf("Second client failed: %v", err)
	}
	second.Close()
}

func TestNATSClient_Integration_RawFrames(t *testing.T) {
	url := setupNATS(t)

	client, err := New(url, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	defer client.Close()

	received := make(chan *types.RawFrame, 3)
	if err := client.SubscribeRawFrames(func(f *types.RawFrame) { received <- f }); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	frames := []*types.RawFrame{
		testutils.MockRawFrame("", testutils.Handshake(0x22, 1)),
		testutils.MockRawFrame("1", testutils.SubPacket(1)),
		testutils.MockRawFrame("1", testutils.SubPacket(2)),
	}
	for _, f := range frames {
		if err := client.PublishRawFrame(f); err != nil {
			t.Fatalf("Failed to publish frame: %v", err)
		}
	}

	for i := range frames {
		select {
		case got := <-received:
			if len(got.Data) != len(frames[i].Data) {
				t.Errorf("frame %d: expected %d bytes, got %d", i, len(frames[i].Data), len(got.Data))
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("Timeout waiting for frame %d", i)
		}
	}
}

func TestNATSClient_Integration_Positions(t *testing.T) {
	url := setupNATS(t)

	publisher, err := New(url, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}
	defer publisher.Close()

	subscriber, err := New(url, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create subscriber: %v", err)
	}
	defer subscriber.Close()

	received := make(chan *types.PositionBatch, 1)
	err = subscriber.SubscribePositions(func(b *types.PositionBatch) { received <- b }, nats.Durable("tracker-test"), nats.DeliverNew())
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	batch := &types.PositionBatch{
		Identifier: "42",
		Remote:     "10.0.0.1:40000",
		ReceivedAt: time.Now().UTC(),
		Positions:  []*types.Position{testutils.MockPosition(3, "42", -23.5, -46.625)},
	}
	if err := publisher.PublishPositions(batch); err != nil {
		t.Fatalf("Failed to publish positions: %v", err)
	}

	select {
	case got := <-received:
		if got.Identifier != "42" || len(got.Positions) != 1 {
			t.Fatalf("unexpected batch: %+v", got)
		}
		if got.Positions[0].Longitude != -46.625 {
			t.Errorf("Expected longitude -46.625, got %f", got.Positions[0].Longitude)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for positions")
	}
}
