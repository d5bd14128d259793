package firewall

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"meridian-router.dev/meridian/internal/store"
)

// RulesetTable is a parsed table from nft list ruleset.
type RulesetTable struct {
	Family string         `json:"family"`
	Name   string         `json:"name"`
	Chains []RulesetChain `json:"chains"`
}

// RulesetChain is a parsed chain with its rules.
type RulesetChain struct {
	Name  string        `json:"name"`
	Type  string        `json:"type,omitempty"` // the "type ... hook ..." line, if any
	Rules []RulesetRule `json:"rules"`
}

// RulesetRule is one rule statement.
type RulesetRule struct {
	Text    string `json:"text"`
	Comment string `json:"comment,omitempty"`
	Handle  int    `json:"handle,omitempty"`
}

// ParseRuleset parses `nft -a list ruleset` output into structured records.
// The parser is line based: nft prints one statement per line with braces
// on their own nesting level.
func ParseRuleset(output string) []RulesetTable {
	var tables []RulesetTable
	var table *RulesetTable
	var chain *RulesetChain

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "" || strings.HasPrefix(line, "#"):

		case strings.HasPrefix(line, "table "):
			if table != nil {
				tables = append(tables, *table)
			}
			fields := strings.Fields(line)
			t := RulesetTable{}
			if len(fields) >= 3 {
				t.Family = fields[1]
				t.Name = strings.TrimSuffix(fields[2], "{")
			}
			table = &t
			chain = nil

		case strings.HasPrefix(line, "chain "):
			if table == nil {
				continue
			}
			if chain != nil {
				table.Chains = append(table.Chains, *chain)
			}
			name, _, _ := strings.Cut(strings.TrimPrefix(line, "chain "), "{")
			chain = &RulesetChain{Name: strings.TrimSpace(name)}

		case line == "}":
			if chain != nil {
				table.Chains = append(table.Chains, *chain)
				chain = nil
			} else if table != nil {
				tables = append(tables, *table)
				table = nil
			}

		case strings.HasPrefix(line, "type ") && chain != nil:
			chain.Type = strings.TrimSuffix(line, ";")

		case chain != nil:
			chain.Rules = append(chain.Rules, parseRuleLine(line))
		}
	}
	if chain != nil && table != nil {
		table.Chains = append(table.Chains, *chain)
	}
	if table != nil {
		tables = append(tables, *table)
	}
	return tables
}

// parseRuleLine splits off the trailing "# handle N" marker and the
// comment expression.
func parseRuleLine(line string) RulesetRule {
	rule := RulesetRule{}

	if text, handle, found := strings.Cut(line, "# handle "); found {
		line = strings.TrimSpace(text)
		if n, err := strconv.Atoi(strings.TrimSpace(handle)); err == nil {
			rule.Handle = n
		}
	}
	if text, rest, found := strings.Cut(line, `comment "`); found {
		if comment, _, ok := strings.Cut(rest, `"`); ok {
			rule.Comment = comment
		}
		line = strings.TrimSpace(text)
	}
	rule.Text = line
	return rule
}

// Ruleset reads and parses the live kernel ruleset.
func (m *Manager) Ruleset(ctx context.Context) ([]RulesetTable, error) {
	out, err := runNft(ctx, "", "-a", "list", "ruleset")
	if err != nil {
		return nil, fmt.Errorf("listing ruleset: %w: %s", err, out)
	}
	return ParseRuleset(out), nil
}

// AddLiveRule appends one rule to the running ruleset without a full
// re-apply. The managed table and chain are created first so the call works
// even on a fresh kernel.
func (m *Manager) AddLiveRule(ctx context.Context, r *store.FirewallRule) error {
	if err := m.ensureChain(ctx, r.Chain); err != nil {
		return err
	}
	args := []string{"add", "rule", "inet", tableName, r.Chain}
	args = append(args, strings.Fields(stripComment(RenderRule(r)))...)
	if out, err := runNft(ctx, "", args...); err != nil {
		return fmt.Errorf("adding live rule %s: %w: %s", r.Name, err, out)
	}
	m.logger.Audit("live rule added", "rule", r.Name, "chain", r.Chain)
	return nil
}

// AddLivePortForward appends the DNAT and forward-accept pair for one port
// forward to the running ruleset.
func (m *Manager) AddLivePortForward(ctx context.Context, f *store.PortForward) error {
	if out, err := runNft(ctx, "", "add", "table", "ip", tableName+"_nat"); err != nil {
		return fmt.Errorf("ensuring nat table: %w: %s", err, out)
	}
	if out, err := runNft(ctx, "",
		"add", "chain", "ip", tableName+"_nat", "prerouting",
		"{", "type", "nat", "hook", "prerouting", "priority", "dstnat", ";", "}"); err != nil {
		return fmt.Errorf("ensuring prerouting chain: %w: %s", err, out)
	}

	dnat := []string{"add", "rule", "ip", tableName + "_nat", "prerouting"}
	if f.InIface != "" {
		dnat = append(dnat, "iif", f.InIface)
	}
	dnat = append(dnat, f.Protocol, "dport", strconv.Itoa(f.ExternalPort),
		"dnat", "to", fmt.Sprintf("%s:%d", f.DestIP, f.DestPort))
	if out, err := runNft(ctx, "", dnat...); err != nil {
		return fmt.Errorf("adding dnat rule %s: %w: %s", f.Name, err, out)
	}

	if err := m.ensureChain(ctx, "forward"); err != nil {
		return err
	}
	accept := []string{"add", "rule", "inet", tableName, "forward",
		"ip", "daddr", f.DestIP, f.Protocol, "dport", strconv.Itoa(f.DestPort), "accept"}
	if out, err := runNft(ctx, "", accept...); err != nil {
		return fmt.Errorf("adding forward accept %s: %w: %s", f.Name, err, out)
	}

	m.logger.Audit("live port forward added", "forward", f.Name, "port", f.ExternalPort)
	return nil
}

func (m *Manager) ensureChain(ctx context.Context, chainName string) error {
	if out, err := runNft(ctx, "", "add", "table", "inet", tableName); err != nil {
		return fmt.Errorf("ensuring table: %w: %s", err, out)
	}
	policy := "drop"
	if chainName == "output" {
		policy = "accept"
	}
	if out, err := runNft(ctx, "",
		"add", "chain", "inet", tableName, chainName,
		"{", "type", "filter", "hook", chainName, "priority", "0", ";",
		"policy", policy, ";", "}"); err != nil {
		return fmt.Errorf("ensuring chain %s: %w: %s", chainName, err, out)
	}
	return nil
}

// stripComment removes the trailing comment expression, which needs shell
// quoting that does not survive argv splitting.
func stripComment(stmt string) string {
	if text, _, found := strings.Cut(stmt, " comment "); found {
		return text
	}
	return stmt
}
