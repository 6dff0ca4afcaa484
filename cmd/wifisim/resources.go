package main

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/process"

	"github.com/signalsfoundry/wifi-roaming-sim/internal/logging"
)

// logResources reports the CPU and memory the process used for the run.
func logResources(ctx context.Context, log logging.Logger) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Debug(ctx, "process stats unavailable", logging.Err(err))
		return
	}
	fields := []logging.Field{}
	if cpu, err := p.CPUPercent(); err == nil {
		fields = append(fields, logging.Float("cpu_percent", cpu))
	}
	if mem, err := p.MemoryInfo(); err == nil {
		fields = append(fields, logging.Any("rss_bytes", mem.RSS))
	}
	log.Info(ctx, "process resources", fields...)
}
