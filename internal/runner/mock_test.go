package runner

import (
	"context"
	"testing"
	"time"

	"github.com/hyperclast/firebreak/internal/domain"
	"github.com/hyperclast/firebreak/internal/guestexec"
	"github.com/hyperclast/firebreak/internal/rpc"
)

func TestMockBootDialHardKillIdempotent(t *testing.T) {
	reg := guestexec.NewRegistry()
	reg.Register("m:echo", func(args, kwargs rpc.Value) (rpc.Value, error) {
		return args, nil
	})
	m := NewMock(reg, rpc.NewJSONCodec())

	vm, err := m.Boot(context.Background(), domain.VMConfig{})
	if err != nil {
		t.Fatalf("boot: %v", err)
	}

	conn, err := m.Dial(context.Background(), vm)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	client := rpc.NewClient(conn)
	codec := rpc.NewJSONCodec()
	argsEnc, _ := codec.Encode("hi")
	resp, err := client.Call(context.Background(), "m:echo", argsEnc, nil, time.Second)
	if err != nil || !resp.Ok {
		t.Fatalf("call failed: resp=%+v err=%v", resp, err)
	}

	if err := m.HardKill(vm); err != nil {
		t.Fatalf("hard kill: %v", err)
	}
	// idempotent: second kill must not error.
	if err := m.HardKill(vm); err != nil {
		t.Fatalf("second hard kill: %v", err)
	}
}

func TestMockSnapshotRestore(t *testing.T) {
	reg := guestexec.NewRegistry()
	m := NewMock(reg, rpc.NewJSONCodec())

	vm, err := m.Boot(context.Background(), domain.VMConfig{})
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	snap, err := m.Snapshot(context.Background(), vm)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	restored, err := m.Restore(context.Background(), snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.SnapshotOrigin != snap {
		t.Fatalf("expected restored VM to reference its snapshot origin")
	}
	if m.SnapshotCallCount() != 1 {
		t.Fatalf("expected exactly one snapshot call, got %d", m.SnapshotCallCount())
	}
}
