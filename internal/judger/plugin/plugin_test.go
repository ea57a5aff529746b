package plugin

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"judger/internal/judger/model"
	pkgerrors "judger/pkg/errors"
)

type fakePlugin struct {
	channels    []string
	initialized int
	judged      []string
	initErr     error
}

func (f *fakePlugin) Initialize(cfg model.JudgerConfig) error {
	f.initialized++
	return f.initErr
}

func (f *fakePlugin) Channels() []string { return f.channels }

func (f *fakePlugin) Judge(ctx context.Context, job model.Job, report ReportFunc) error {
	f.judged = append(f.judged, job.Channel+"/"+job.SolutionID)
	return report(ctx, model.Solution{Status: model.StatusAccepted}, job.SolutionID)
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	a := &fakePlugin{channels: []string{"traditional", "legacy"}}
	b := &fakePlugin{channels: []string{"interactive"}}
	if err := r.Register(a); err != nil {
		t.Fatalf("register a failed: %v", err)
	}
	if err := r.Register(b); err != nil {
		t.Fatalf("register b failed: %v", err)
	}
	if got := r.Channels(); !reflect.DeepEqual(got, []string{"traditional", "legacy", "interactive"}) {
		t.Fatalf("unexpected channels %v", got)
	}

	if err := r.Initialize(model.JudgerConfig{}); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if a.initialized != 1 || b.initialized != 1 {
		t.Fatalf("each plugin should initialize once, got %d %d", a.initialized, b.initialized)
	}

	var reported []string
	report := func(ctx context.Context, s model.Solution, id string) error {
		reported = append(reported, id+":"+string(s.Status))
		return nil
	}
	if err := r.Judge(context.Background(), model.Job{SolutionID: "s1", Channel: "legacy"}, report); err != nil {
		t.Fatalf("judge failed: %v", err)
	}
	if len(a.judged) != 1 || a.judged[0] != "legacy/s1" || len(b.judged) != 0 {
		t.Fatalf("wrong dispatch: a=%v b=%v", a.judged, b.judged)
	}
	if len(reported) != 1 || reported[0] != "s1:Accepted" {
		t.Fatalf("unexpected reports %v", reported)
	}

	err := r.Judge(context.Background(), model.Job{Channel: "unknown"}, report)
	if !pkgerrors.Is(err, pkgerrors.ChannelNotSupported) {
		t.Fatalf("expected ChannelNotSupported, got %v", err)
	}
}

func TestRegistryRejectsDuplicateChannels(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakePlugin{channels: []string{"traditional"}}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(&fakePlugin{channels: []string{"other", "traditional"}}); err == nil {
		t.Fatalf("expected duplicate channel error")
	}
	if got := r.Channels(); len(got) != 1 {
		t.Fatalf("rejected plugin must not be partially registered, got %v", got)
	}
	if err := r.Register(&fakePlugin{}); err == nil {
		t.Fatalf("expected error for plugin without channels")
	}
	if err := r.Register(&fakePlugin{channels: []string{"x", "x"}}); err == nil {
		t.Fatalf("expected error for repeated channel")
	}
}

func TestRegistryInitializeError(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&fakePlugin{channels: []string{"traditional"}, initErr: errors.New("no tmp dir")})
	if err := r.Initialize(model.JudgerConfig{}); !pkgerrors.Is(err, pkgerrors.JudgeSystemError) {
		t.Fatalf("expected JudgeSystemError, got %v", err)
	}
}
