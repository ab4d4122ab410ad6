package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/ahrav/go-contracts/internal/domain"
	dcerrors "github.com/ahrav/go-contracts/internal/errors"
	"github.com/ahrav/go-contracts/internal/registry"
)

// Content types reported by the built-in invokers.
const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// exitTempFail is the sysexits EX_TEMPFAIL code. A fast-path executable
// exits with it to report a transient failure worth retrying.
const exitTempFail = 75

// Request is one invocation of a service operation.
type Request struct {
	Descriptor domain.ServiceDescriptor
	Operation  string
	Args       map[string]any
}

// Response is the payload produced by a successful invocation.
type Response struct {
	Content     []byte
	ContentType string
}

// Invoker is one way of reaching a service. The fast path and the fallback
// path are both Invokers and produce the same Response shape.
type Invoker interface {
	// Name identifies the strategy in metadata and metrics.
	Name() string
	// Probe checks that the strategy can serve desc without invoking it.
	Probe(ctx context.Context, desc domain.ServiceDescriptor) error
	// Invoke performs the call. ctx carries the per-attempt timeout.
	Invoke(ctx context.Context, req Request) (Response, error)
}

// FallbackOperation returns the registry operation desc's fallback template
// resolves to for operation, or "" when no fallback is configured.
func FallbackOperation(desc domain.ServiceDescriptor, operation string) string {
	if desc.Fallback == "" {
		return ""
	}
	return expandTemplate(desc.Fallback, desc.Name, operation)
}

func expandTemplate(tpl, service, operation string) string {
	return strings.NewReplacer("{service}", service, "{operation}", operation).Replace(tpl)
}

// ExecInvoker runs an external executable built from the descriptor's fast
// path command template. Arguments are written to stdin as JSON and the
// payload is read from stdout.
type ExecInvoker struct {
	logger    *slog.Logger
	waitDelay time.Duration
}

// NewExecInvoker returns an invoker for command-template fast paths.
func NewExecInvoker(logger *slog.Logger) *ExecInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecInvoker{
		logger:    logger.With("component", "exec_invoker"),
		waitDelay: time.Second,
	}
}

// Name implements Invoker.
func (e *ExecInvoker) Name() string { return domain.SourceFastPath }

func (e *ExecInvoker) argv(desc domain.ServiceDescriptor, operation string) ([]string, error) {
	if desc.FastPath == "" {
		return nil, &dcerrors.ConfigurationError{Service: desc.Name, Message: "no fast path configured"}
	}
	argv, err := shlex.Split(expandTemplate(desc.FastPath, desc.Name, operation))
	if err != nil {
		return nil, &dcerrors.ConfigurationError{Service: desc.Name, Message: fmt.Sprintf("invalid fast path template: %v", err)}
	}
	if len(argv) == 0 {
		return nil, &dcerrors.ConfigurationError{Service: desc.Name, Message: "empty fast path command"}
	}
	return argv, nil
}

// Probe resolves the executable on PATH.
func (e *ExecInvoker) Probe(_ context.Context, desc domain.ServiceDescriptor) error {
	argv, err := e.argv(desc, "")
	if err != nil {
		return err
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return &dcerrors.NotFoundError{What: "executable", Name: argv[0]}
	}
	return nil
}

// Invoke runs the command. A deadline becomes a transient timeout and exit
// code 75 a transient connection failure; other non-zero exits are
// execution failures carrying stderr.
func (e *ExecInvoker) Invoke(ctx context.Context, req Request) (Response, error) {
	argv, err := e.argv(req.Descriptor, req.Operation)
	if err != nil {
		return Response{}, err
	}

	args := req.Args
	if args == nil {
		args = map[string]any{}
	}
	stdin, err := json.Marshal(args)
	if err != nil {
		return Response{}, &dcerrors.ValidationError{Field: "args", Message: fmt.Sprintf("arguments are not JSON encodable: %v", err)}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec G204 -- command comes from operator configuration
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Env = append(os.Environ(),
		"CONTRACTD_SERVICE="+req.Descriptor.Name,
		"CONTRACTD_OPERATION="+req.Operation)
	cmd.WaitDelay = e.waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr == nil {
		out := stdout.Bytes()
		ct := ContentTypeText
		if json.Valid(out) {
			ct = ContentTypeJSON
		}
		return Response{Content: out, ContentType: ct}, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Response{}, &dcerrors.TransientError{
			Kind:    dcerrors.KindTimeout,
			Service: req.Descriptor.Name,
			Message: "fast path timed out",
			Cause:   ctx.Err(),
		}
	case ctx.Err() != nil:
		return Response{}, ctx.Err()
	case errors.Is(runErr, exec.ErrNotFound):
		return Response{}, &dcerrors.NotFoundError{What: "executable", Name: argv[0]}
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if exitErr.ExitCode() == exitTempFail {
			return Response{}, &dcerrors.TransientError{
				Kind:    dcerrors.KindConnection,
				Service: req.Descriptor.Name,
				Message: "fast path reported temporary failure: " + msg,
			}
		}
		e.logger.DebugContext(ctx, "fast path exited non-zero",
			"service", req.Descriptor.Name,
			"operation", req.Operation,
			"exit_code", exitErr.ExitCode(),
			"stderr", msg)
		return Response{}, fmt.Errorf("fast path %s exited with code %d: %s", argv[0], exitErr.ExitCode(), msg)
	}
	return Response{}, fmt.Errorf("run fast path %s: %w", argv[0], runErr)
}

// RegistryInvoker resolves the descriptor's fallback template to an
// operation in the local registry.
type RegistryInvoker struct {
	reg *registry.Registry
}

// NewRegistryInvoker returns an invoker backed by reg.
func NewRegistryInvoker(reg *registry.Registry) *RegistryInvoker {
	return &RegistryInvoker{reg: reg}
}

// Name implements Invoker.
func (r *RegistryInvoker) Name() string { return domain.SourceFallback }

// Probe checks that a fallback is configured and, when the template names a
// fixed operation, that it is registered.
func (r *RegistryInvoker) Probe(_ context.Context, desc domain.ServiceDescriptor) error {
	if desc.Fallback == "" {
		return &dcerrors.ConfigurationError{Service: desc.Name, Message: "no fallback configured"}
	}
	if strings.Contains(desc.Fallback, "{operation}") {
		return nil
	}
	name := expandTemplate(desc.Fallback, desc.Name, "")
	if !r.reg.Has(name) {
		return &dcerrors.NotFoundError{What: "operation", Name: name}
	}
	return nil
}

// Invoke runs the resolved registry operation.
func (r *RegistryInvoker) Invoke(ctx context.Context, req Request) (Response, error) {
	if req.Descriptor.Fallback == "" {
		return Response{}, &dcerrors.ConfigurationError{Service: req.Descriptor.Name, Message: "no fallback configured"}
	}
	name := expandTemplate(req.Descriptor.Fallback, req.Descriptor.Name, req.Operation)
	res := r.reg.Execute(ctx, name, req.Args)
	if !res.Success {
		return Response{}, res.Error
	}
	return Response{Content: res.Content, ContentType: res.ContentType}, nil
}
