// Package alerter turns detection counts into periodic email summaries.
package alerter

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"

	"FlowSentry/internal/config"
	"FlowSentry/internal/logging"
	"FlowSentry/internal/model"
)

// Alerter counts detections per class_guess and, once per check interval,
// evaluates them against predefined rules. Triggered rules are sent as one
// consolidated notification, then the counters start over.
type Alerter struct {
	rules         []config.AlerterRule
	notifier      model.Notifier
	checkInterval time.Duration

	mu     sync.Mutex
	counts map[string]int
	hosts  map[string]map[string]int
}

// NewAlerter creates a new Alerter instance.
func NewAlerter(cfg *config.AlerterConfig, notifier model.Notifier) (*Alerter, error) {
	interval, err := time.ParseDuration(cfg.CheckInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid check_interval for alerter: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("check_interval for alerter must be positive, got %s", interval)
	}
	return &Alerter{
		rules:         cfg.Rules,
		notifier:      notifier,
		checkInterval: interval,
		counts:        make(map[string]int),
		hosts:         make(map[string]map[string]int),
	}, nil
}

// Observe counts the detections of a batch of flows.
func (a *Alerter) Observe(flows []model.FlowDetections) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range flows {
		for _, d := range f.Detections {
			a.counts[d.ClassGuess]++
			if f.Flow.SrcIP == "" {
				continue
			}
			byHost, ok := a.hosts[d.ClassGuess]
			if !ok {
				byHost = make(map[string]int)
				a.hosts[d.ClassGuess] = byHost
			}
			byHost[f.Flow.SrcIP]++
		}
	}
}

// Serve runs the periodic evaluation until ctx is done, then evaluates one
// last time so counts of the final partial interval are not lost.
func (a *Alerter) Serve(ctx context.Context) error {
	logging.Info().Str("component", "alerter").Dur("interval", a.checkInterval).Int("rules", len(a.rules)).
		Msg("alerter started")

	ticker := time.NewTicker(a.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Evaluate(ctx)
		case <-ctx.Done():
			a.Evaluate(context.Background())
			return ctx.Err()
		}
	}
}

// String names the service for the supervisor.
func (a *Alerter) String() string {
	return "alerter"
}

// Evaluate checks the counts of the current interval against the rules,
// sends one notification for all triggered rules and resets the counts. It
// returns the number of triggered rules.
func (a *Alerter) Evaluate(ctx context.Context) int {
	a.mu.Lock()
	counts, hosts := a.counts, a.hosts
	a.counts = make(map[string]int)
	a.hosts = make(map[string]map[string]int)
	a.mu.Unlock()

	var messages []string
	for _, rule := range a.rules {
		n := counts[rule.ClassGuess]
		if n < rule.MinCount {
			continue
		}
		messages = append(messages, formatRule(rule, n, hosts[rule.ClassGuess]))
	}
	if len(messages) == 0 {
		return 0
	}

	logging.Info().Str("component", "alerter").Int("triggered", len(messages)).Msg("alerter evaluation completed")

	body := "<h1>FlowSentry Alert Summary</h1>" +
		"<p>The following alerts were triggered during the last check:</p><hr>" +
		strings.Join(messages, "<hr>")

	if a.notifier != nil {
		subject := fmt.Sprintf("FlowSentry Alert Summary (%d Triggered)", len(messages))
		if err := a.notifier.Send(ctx, subject, body); err != nil {
			logging.Error().Err(err).Str("component", "alerter").Msg("failed to send consolidated alert notification")
		} else {
			logging.Info().Str("component", "alerter").Msg("consolidated alert notification sent")
		}
	}
	return len(messages)
}

// maxListedHosts bounds the source hosts listed per triggered rule.
const maxListedHosts = 10

func formatRule(rule config.AlerterRule, count int, hosts map[string]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h3>%s</h3><p>%d <b>%s</b> detections (threshold %d)</p>",
		html.EscapeString(rule.Name), count, html.EscapeString(rule.ClassGuess), rule.MinCount)

	if len(hosts) == 0 {
		return b.String()
	}
	type hostCount struct {
		ip string
		n  int
	}
	ranked := make([]hostCount, 0, len(hosts))
	for ip, n := range hosts {
		ranked = append(ranked, hostCount{ip, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].ip < ranked[j].ip
	})
	if len(ranked) > maxListedHosts {
		ranked = ranked[:maxListedHosts]
	}
	b.WriteString("<ul>")
	for _, h := range ranked {
		fmt.Fprintf(&b, "<li>%s: %d</li>", html.EscapeString(h.ip), h.n)
	}
	b.WriteString("</ul>")
	return b.String()
}
