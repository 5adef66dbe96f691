// Command firebreakctl is a standalone CLI exercising the Sandbox
// Manager end to end. It has no client/server relationship with
// firebreakd: the daemon exposes no invocation API (spec §1 scopes the
// annotation/shim surface and CLI out), so this tool builds its own
// in-process stack — Pool Manager, mock Runner, demo guest functions —
// the same way the unit tests do, and reports what happened.
//
// Grounded on cmd/nova/main.go's cobra root command assembly and
// cmd/nova/function.go's invokeCmd flag/payload handling.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperclast/firebreak/internal/domain"
	"github.com/hyperclast/firebreak/internal/guestexec"
	"github.com/hyperclast/firebreak/internal/pool"
	"github.com/hyperclast/firebreak/internal/poolmgr"
	"github.com/hyperclast/firebreak/internal/rpc"
	"github.com/hyperclast/firebreak/internal/runner"
	"github.com/hyperclast/firebreak/internal/sandbox"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "firebreakctl",
		Short: "firebreakctl - inspect and exercise the sandbox control plane",
		Long:  "A CLI for the capability-profile pool key derivation and for one-shot demo executions against the in-process mock VM backend.",
	}

	rootCmd.AddCommand(hashCmd(), execCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// hashCmd implements spec §4.1's contract directly: read a
// CapabilityProfile declaration and print its canonical PoolKey, so an
// operator can confirm two declarations collapse onto one pool without
// standing up any VM.
func hashCmd() *cobra.Command {
	var profilePath string

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the canonical pool key for a capability profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := loadProfile(profilePath)
			if err != nil {
				return err
			}
			if err := cp.Validate(); err != nil {
				return fmt.Errorf("invalid profile: %w", err)
			}
			fmt.Println(sandbox.HashProfile(cp).String())
			return nil
		},
	}
	cmd.Flags().StringVar(&profilePath, "profile", "", "path to a JSON capability profile (required)")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

// execCmd runs one call through a freshly built Sandbox Manager backed
// by the mock Runner and a small registry of demo guest functions,
// printing the decoded result or the translated *domain.Failure kind.
func execCmd() *cobra.Command {
	var (
		profilePath string
		functionRef string
		argsJSON    string
		minSize     int
		maxSize     int
	)

	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Execute a demo function under a capability profile (in-process mock VM backend)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cp, err := loadProfile(profilePath)
			if err != nil {
				return err
			}

			var argVal rpc.Value
			if argsJSON != "" {
				if err := decodeJSONValue(argsJSON, &argVal); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}

			reg := demoRegistry()
			codec := rpc.NewJSONCodec()
			rt := runner.NewMock(reg, codec)
			mgr := poolmgr.New(rt, rt, codec, func(*domain.CapabilityProfile) pool.Config {
				return pool.Config{MinSize: minSize, MaxSize: maxSize}
			}, nil)
			defer mgr.Shutdown(context.Background())
			sb := sandbox.New(mgr, codec)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			start := time.Now()
			result, err := sb.Execute(ctx, functionRef, argVal, nil, cp)
			elapsed := time.Since(start)
			if err != nil {
				if f, ok := err.(*domain.Failure); ok {
					return fmt.Errorf("%s: %s (after %s)", f.Kind, f.Message, elapsed)
				}
				return err
			}

			encoded, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("result is not representable as JSON: %w", err)
			}
			fmt.Printf("%s (%s)\n", encoded, elapsed)
			return nil
		},
	}
	cmd.Flags().StringVar(&profilePath, "profile", "", "path to a JSON capability profile (required)")
	cmd.Flags().StringVar(&functionRef, "function", "demo:echo", "module:qualname to invoke (demo:echo, demo:double, demo:sleep, demo:fail)")
	cmd.Flags().StringVar(&argsJSON, "args", "", "JSON-encoded argument value")
	cmd.Flags().IntVar(&minSize, "pool-min", 0, "pool MinSize")
	cmd.Flags().IntVar(&maxSize, "pool-max", 2, "pool MaxSize")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}

func loadProfile(path string) (*domain.CapabilityProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var cp domain.CapabilityProfile
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &cp, nil
}

// demoRegistry is the reference guest side used by `exec`: a handful of
// functions exercising the success, doubling, timeout, and
// remote-exception paths named in spec §8's scenarios.
func demoRegistry() *guestexec.Registry {
	reg := guestexec.NewRegistry()
	reg.Register("demo:echo", func(argsVal, kwargsVal rpc.Value) (rpc.Value, error) {
		return argsVal, nil
	})
	reg.Register("demo:double", func(argsVal, kwargsVal rpc.Value) (rpc.Value, error) {
		n, ok := argsVal.(int64)
		if !ok {
			return nil, &guestexec.RemoteException{Kind: "TypeError", Msg: "demo:double expects an integer argument"}
		}
		return n * 2, nil
	})
	reg.Register("demo:sleep", func(argsVal, kwargsVal rpc.Value) (rpc.Value, error) {
		ms, _ := argsVal.(int64)
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return true, nil
	})
	reg.Register("demo:fail", func(argsVal, kwargsVal rpc.Value) (rpc.Value, error) {
		msg, _ := argsVal.(string)
		if msg == "" {
			msg = "demo failure"
		}
		return nil, &guestexec.RemoteException{Kind: "ValueError", Msg: msg}
	})
	return reg
}

// decodeJSONValue unmarshals JSON into an rpc.Value, mapping
// encoding/json's native number/string/bool/array/object types onto the
// permitted value space (spec §6): JSON numbers without a fraction
// become int64, everything else follows directly.
func decodeJSONValue(data string, out *rpc.Value) error {
	var raw any
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return err
	}
	*out = convertJSONValue(raw)
	return nil
}

func convertJSONValue(raw any) rpc.Value {
	switch t := raw.(type) {
	case float64:
		if t == float64(int64(t)) {
			return int64(t)
		}
		return t
	case []any:
		out := make([]rpc.Value, len(t))
		for i, item := range t {
			out[i] = convertJSONValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]rpc.Value, len(t))
		for k, item := range t {
			out[k] = convertJSONValue(item)
		}
		return out
	default:
		return t
	}
}
