package frames

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/radarcloud/internal/radar"
)

func TestStaticResolver(t *testing.T) {
	pose := radar.YawPose(90, radar.Vec3{Z: 1.5})
	r, err := NewStaticResolver(pose)
	if err != nil {
		t.Fatalf("NewStaticResolver: %v", err)
	}

	got, err := r.Resolve(context.Background(), "radar", "map", time.Now())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.RowMajor() != pose.RowMajor() || got.Translation != pose.Translation {
		t.Errorf("Resolve returned %v, want %v", got.RowMajor(), pose.RowMajor())
	}

	got, err = r.Resolve(context.Background(), "map", "map", time.Time{})
	if err != nil {
		t.Fatalf("Resolve same frame: %v", err)
	}
	if got.RowMajor() != radar.IdentityPose().RowMajor() {
		t.Errorf("same frame should resolve to identity, got %v", got.RowMajor())
	}
}

func TestStaticResolver_RejectsBadPose(t *testing.T) {
	_, err := NewStaticResolver(radar.NewSensorPose([9]float64{2, 0, 0, 0, 2, 0, 0, 0, 2}, radar.Vec3{}))
	if !errors.Is(err, radar.ErrInvalidPose) {
		t.Errorf("expected ErrInvalidPose, got %v", err)
	}
}

func TestResolverFunc(t *testing.T) {
	want := errors.New("boom")
	var r Resolver = ResolverFunc(func(ctx context.Context, source, target string, at time.Time) (radar.SensorPose, error) {
		return radar.SensorPose{}, want
	})
	if _, err := r.Resolve(context.Background(), "a", "b", time.Time{}); !errors.Is(err, want) {
		t.Errorf("got %v, want %v", err, want)
	}
}
