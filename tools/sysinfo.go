package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

var sysinfoLogger = logrus.WithField("tool", "sysinfo")

// SysInfoTool reports facts about the host the agent runs on.
type SysInfoTool struct {
	started time.Time
}

func NewSysInfoTool() *SysInfoTool {
	sysinfoLogger.Debug("Initializing sysinfo tool")
	return &SysInfoTool{started: time.Now()}
}

func (s *SysInfoTool) Name() string {
	return "sysinfo"
}

func (s *SysInfoTool) Description() string {
	return "Display information about the server. Input is one of: 'all' (default), 'host' (hostname, OS, architecture), 'cpu' (CPU count), 'memory' (runtime memory usage), 'uptime' (service uptime)."
}

func (s *SysInfoTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := sysinfoLogger.WithField("input", input)
	toolLogger.Info("Sysinfo tool called")
	startTime := time.Now()

	section := strings.ToLower(strings.TrimSpace(input))
	if section == "" {
		section = "all"
	}

	info := make(map[string]any)
	switch section {
	case "all":
		s.host(info)
		s.cpu(info)
		s.memory(info)
		s.uptime(info)
	case "host":
		s.host(info)
	case "cpu":
		s.cpu(info)
	case "memory":
		s.memory(info)
	case "uptime":
		s.uptime(info)
	default:
		return "", fmt.Errorf("unsupported sysinfo section %q, supported: all, host, cpu, memory, uptime", section)
	}

	out, err := json.Marshal(info)
	if err != nil {
		return "", err
	}

	toolLogger.WithFields(logrus.Fields{
		"section":       section,
		"executionTime": time.Since(startTime),
		"outputLength":  len(out),
	}).Info("Sysinfo tool completed")
	return string(out), nil
}

func (s *SysInfoTool) host(info map[string]any) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	info["hostname"] = hostname
	info["os"] = runtime.GOOS
	info["arch"] = runtime.GOARCH
}

func (s *SysInfoTool) cpu(info map[string]any) {
	info["cpus"] = runtime.NumCPU()
	info["goroutines"] = runtime.NumGoroutine()
}

func (s *SysInfoTool) memory(info map[string]any) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	info["heapAllocBytes"] = m.HeapAlloc
	info["sysBytes"] = m.Sys
}

func (s *SysInfoTool) uptime(info map[string]any) {
	info["uptime"] = time.Since(s.started).Round(time.Second).String()
}

var _ tools.Tool = (*SysInfoTool)(nil)
