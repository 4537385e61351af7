//go:build linux

package tracer

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"
)

// tracepoint attachments, program names as exported by the BPF object.
var attachments = []struct {
	group, name, program string
}{
	{"syscalls", "sys_exit_read", "trace_read_exit"},
	{"syscalls", "sys_exit_write", "trace_write_exit"},
	{"sched", "sched_process_exec", "trace_exec"},
}

// Run loads the BPF object, attaches its tracepoints, and pumps perf records
// onto the bus until ctx is cancelled.
func (t *Tracer) Run(ctx context.Context) error {
	if t.cfg.ObjectPath == "" {
		t.logger.Info("kernel tracer disabled, no BPF object configured")
		return nil
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("remove memlock limit: %w", err)
	}

	coll, err := ebpf.LoadCollection(t.cfg.ObjectPath)
	if err != nil {
		return fmt.Errorf("load BPF object %s: %w", t.cfg.ObjectPath, err)
	}
	defer coll.Close()

	var links []link.Link
	defer func() {
		for _, l := range links {
			l.Close()
		}
	}()
	for _, att := range attachments {
		prog, ok := coll.Programs[att.program]
		if !ok {
			t.logger.Warn("BPF program missing from object",
				zap.String("program", att.program))
			continue
		}
		l, err := link.Tracepoint(att.group, att.name, prog, nil)
		if err != nil {
			return fmt.Errorf("attach %s/%s: %w", att.group, att.name, err)
		}
		links = append(links, l)
	}

	events, ok := coll.Maps["events"]
	if !ok {
		return errors.New("BPF object has no events map")
	}
	reader, err := perf.NewReader(events, os.Getpagesize())
	if err != nil {
		return fmt.Errorf("open perf reader: %w", err)
	}

	go func() {
		<-ctx.Done()
		reader.Close()
	}()

	t.logger.Info("kernel tracer started",
		zap.String("object", t.cfg.ObjectPath),
		zap.Int("tracepoints", len(links)))

	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				t.logger.Info("kernel tracer stopped")
				return nil
			}
			t.logger.Warn("perf read failed", zap.Error(err))
			continue
		}
		if record.LostSamples > 0 {
			t.logger.Warn("perf samples lost", zap.Uint64("count", record.LostSamples))
			continue
		}

		raw, err := decodeRaw(record.RawSample)
		if err != nil {
			t.logger.Debug("undecodable perf sample", zap.Error(err))
			continue
		}
		if evt, ok := toEvent(raw); ok {
			t.bus.Publish(evt)
		}
	}
}
