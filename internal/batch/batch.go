// Package batch holds the Batch data model (§3): the set of clients, URLs
// and per-batch output handles driven by one engine.Loop goroutine,
// grounded on client.h's batch_context references and spec.md §3.
package batch

import (
	"fmt"
	"net"
	"os"

	"fortio.org/curlloader/internal/addrplan"
	"fortio.org/curlloader/internal/client"
	"fortio.org/curlloader/internal/stats"
)

// Config is the fully parsed, validated configuration for one batch,
// populated by the config package.
type Config struct {
	Name              string
	ClientNumMax      int
	ClientNumStart    int
	ClientsInitialInc int
	CyclesNum         int
	IsHTTPS           bool
	Interface         string
	BaseIP            string
	MaxIP             string // IP_ADDR_MAX: upper bound of the address range
	NetmaskBits       int    // NETMASK, as a CIDR prefix length
	SharedIP          bool
	URLs              []client.URL
	FirstCyclingURL   int
	LastCyclingURL    int
	LogFile           string
	StatsFile         string // .txt
	ContextDumpFile   string // .ctx
	URLDumpDirs       []string
	ConnectTimeoutMs  int
	RecoveryDisabled  bool
	LogURLs           bool
	InsecureSSL       bool
}

// Batch owns the client population, statistics aggregator, address plan
// and open output files for one `-t`-spawned loop goroutine.
type Batch struct {
	Config  *Config
	Clients []*client.Client
	Stats   *stats.Aggregator
	AddrPlan *addrplan.Plan

	logFile *os.File
}

// New builds a batch's runtime state (clients, stats, address plan) from a
// validated Config. It does not start the loading loop; that is
// engine.Loop's job.
func New(cfg *Config, installer addrplan.Installer) (*Batch, error) {
	if cfg.ClientNumMax <= 0 {
		return nil, fmt.Errorf("batch %s: client_num_max must be > 0", cfg.Name)
	}
	clients := make([]*client.Client, 0, cfg.ClientNumMax)
	for i := 0; i < cfg.ClientNumStart; i++ {
		c, err := client.New(fmt.Sprintf("%s-%d", cfg.Name, i), i, cfg.URLs, cfg.FirstCyclingURL, cfg.LastCyclingURL, cfg.CyclesNum)
		if err != nil {
			return nil, fmt.Errorf("batch %s: client %d: %w", cfg.Name, i, err)
		}
		c.RecoveryEnabled = !cfg.RecoveryDisabled
		clients = append(clients, c)
	}

	var plan *addrplan.Plan
	if cfg.BaseIP != "" {
		ip := net.ParseIP(cfg.BaseIP)
		if ip == nil {
			return nil, fmt.Errorf("batch %s: invalid base IP %q", cfg.Name, cfg.BaseIP)
		}
		if err := validateAddrRange(cfg); err != nil {
			return nil, fmt.Errorf("batch %s: %w", cfg.Name, err)
		}
		var err error
		plan, err = addrplan.NewPlan(ip, cfg.SharedIP, installer)
		if err != nil {
			return nil, fmt.Errorf("batch %s: %w", cfg.Name, err)
		}
	}

	return &Batch{
		Config:   cfg,
		Clients:  clients,
		Stats:    stats.NewAggregator(),
		AddrPlan: plan,
	}, nil
}

// validateAddrRange checks IP_ADDR_MAX/NETMASK bounds when configured,
// mirroring validate_batch' range sanity checks: a non-shared plan must
// have enough addresses between IP_ADDR_MIN and IP_ADDR_MAX (or within the
// NETMASK subnet) to cover ClientNumMax distinct clients.
func validateAddrRange(cfg *Config) error {
	if cfg.SharedIP {
		return nil
	}
	if cfg.MaxIP != "" {
		base := net.ParseIP(cfg.BaseIP)
		max := net.ParseIP(cfg.MaxIP)
		if base == nil || max == nil {
			return fmt.Errorf("invalid IP_ADDR_MIN/IP_ADDR_MAX")
		}
		span, err := addrplan.Span(base, max)
		if err != nil {
			return err
		}
		if span < cfg.ClientNumMax {
			return fmt.Errorf("address range %s-%s only covers %d addresses, need %d",
				cfg.BaseIP, cfg.MaxIP, span, cfg.ClientNumMax)
		}
	}
	if cfg.NetmaskBits > 0 {
		ip := net.ParseIP(cfg.BaseIP)
		if ip == nil {
			return fmt.Errorf("invalid IP_ADDR_MIN %q", cfg.BaseIP)
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		hostBits := bits - cfg.NetmaskBits
		if hostBits < 0 {
			return fmt.Errorf("NETMASK /%d wider than address family", cfg.NetmaskBits)
		}
		capacity := 1 << uint(hostBits)
		if capacity < cfg.ClientNumMax {
			return fmt.Errorf("NETMASK /%d only covers %d addresses, need %d",
				cfg.NetmaskBits, capacity, cfg.ClientNumMax)
		}
	}
	return nil
}

// AddClient appends one more client to the population, mirroring
// add_loading_clients' ramp-up growth (engine.Loop calls this, not
// Batch itself, since ramp-up pacing is a timer-driven concern of C8).
func (b *Batch) AddClient() (*client.Client, error) {
	idx := len(b.Clients)
	c, err := client.New(fmt.Sprintf("%s-%d", b.Config.Name, idx), idx, b.Config.URLs,
		b.Config.FirstCyclingURL, b.Config.LastCyclingURL, b.Config.CyclesNum)
	if err != nil {
		return nil, err
	}
	c.RecoveryEnabled = !b.Config.RecoveryDisabled
	b.Clients = append(b.Clients, c)
	return c, nil
}

// Close releases any open output handles.
func (b *Batch) Close() error {
	if b.logFile != nil {
		return b.logFile.Close()
	}
	return nil
}
