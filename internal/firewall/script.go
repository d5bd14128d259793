// Package firewall renders and applies the nftables configuration from the
// stored rule and port-forward definitions.
package firewall

import (
	"fmt"
	"strings"

	"meridian-router.dev/meridian/internal/store"
)

// tableName is the nftables table all managed rules live in.
const tableName = "meridian"

// BuildScript renders a complete nftables config file from the enabled
// rules and port forwards. The script starts with flush ruleset so applying
// it replaces the previous state atomically.
func BuildScript(rules []store.FirewallRule, forwards []store.PortForward, wanIface string) string {
	var sb strings.Builder

	sb.WriteString("#!/usr/sbin/nft -f\n")
	sb.WriteString("# Managed file, do not edit. Changes are overwritten on apply.\n\n")
	sb.WriteString("flush ruleset\n\n")

	sb.WriteString(fmt.Sprintf("table inet %s {\n", tableName))

	writeChain(&sb, "input", "filter", "drop", func() {
		sb.WriteString("\t\tiif \"lo\" accept\n")
		sb.WriteString("\t\tct state established,related accept\n")
		sb.WriteString("\t\tct state invalid drop\n")
		sb.WriteString("\t\tip protocol icmp accept\n")
		sb.WriteString("\t\tip6 nexthdr ipv6-icmp accept\n")
		for _, r := range chainRules(rules, "input") {
			sb.WriteString("\t\t" + RenderRule(&r) + "\n")
		}
	})

	writeChain(&sb, "forward", "filter", "drop", func() {
		sb.WriteString("\t\tct state established,related accept\n")
		sb.WriteString("\t\tct state invalid drop\n")
		for _, r := range chainRules(rules, "forward") {
			sb.WriteString("\t\t" + RenderRule(&r) + "\n")
		}
		for _, f := range forwards {
			if !f.Enabled {
				continue
			}
			sb.WriteString(fmt.Sprintf("\t\tip daddr %s %s dport %d accept",
				f.DestIP, f.Protocol, f.DestPort))
			sb.WriteString(ruleComment(f.Name))
			sb.WriteString("\n")
		}
	})

	writeChain(&sb, "output", "filter", "accept", func() {
		for _, r := range chainRules(rules, "output") {
			sb.WriteString("\t\t" + RenderRule(&r) + "\n")
		}
	})

	sb.WriteString("}\n\n")

	sb.WriteString(fmt.Sprintf("table ip %s_nat {\n", tableName))
	sb.WriteString("\tchain prerouting {\n")
	sb.WriteString("\t\ttype nat hook prerouting priority dstnat; policy accept;\n")
	for _, f := range forwards {
		if !f.Enabled {
			continue
		}
		var iif string
		if f.InIface != "" {
			iif = fmt.Sprintf("iif %q ", f.InIface)
		}
		sb.WriteString(fmt.Sprintf("\t\t%s%s dport %d dnat to %s:%d",
			iif, f.Protocol, f.ExternalPort, f.DestIP, f.DestPort))
		sb.WriteString(ruleComment(f.Name))
		sb.WriteString("\n")
	}
	sb.WriteString("\t}\n")
	sb.WriteString("\tchain postrouting {\n")
	sb.WriteString("\t\ttype nat hook postrouting priority srcnat; policy accept;\n")
	if wanIface != "" {
		sb.WriteString(fmt.Sprintf("\t\toif %q masquerade\n", wanIface))
	}
	sb.WriteString("\t}\n")
	sb.WriteString("}\n")

	return sb.String()
}

func writeChain(sb *strings.Builder, name, hook, policy string, body func()) {
	sb.WriteString(fmt.Sprintf("\tchain %s {\n", name))
	sb.WriteString(fmt.Sprintf("\t\ttype %s hook %s priority 0; policy %s;\n", hook, name, policy))
	body()
	sb.WriteString("\t}\n")
}

// chainRules filters enabled rules for a chain, keeping priority order.
// Callers pass rules already sorted by priority from the store.
func chainRules(rules []store.FirewallRule, chain string) []store.FirewallRule {
	var out []store.FirewallRule
	for _, r := range rules {
		if r.Enabled && r.Chain == chain {
			out = append(out, r)
		}
	}
	return out
}

// RenderRule renders one rule as an nft statement.
func RenderRule(r *store.FirewallRule) string {
	var parts []string

	if r.InIface != "" {
		parts = append(parts, fmt.Sprintf("iif %q", r.InIface))
	}
	if r.OutIface != "" {
		parts = append(parts, fmt.Sprintf("oif %q", r.OutIface))
	}
	if r.SrcIP != "" {
		parts = append(parts, "ip saddr "+r.SrcIP)
	}
	if r.DstIP != "" {
		parts = append(parts, "ip daddr "+r.DstIP)
	}
	if r.Protocol != "" {
		if r.SrcPort != "" {
			parts = append(parts, fmt.Sprintf("%s sport %s", r.Protocol, portExpr(r.SrcPort)))
		}
		if r.DstPort != "" {
			parts = append(parts, fmt.Sprintf("%s dport %s", r.Protocol, portExpr(r.DstPort)))
		}
		if r.SrcPort == "" && r.DstPort == "" {
			parts = append(parts, "meta l4proto "+r.Protocol)
		}
	}

	parts = append(parts, r.Action)

	stmt := strings.Join(parts, " ")
	if name := firstNonEmpty(r.Comment, r.Name); name != "" {
		stmt += ruleComment(name)
	}
	return stmt
}

// portExpr turns "80,443" and "8000-8100" into nft set/range syntax.
func portExpr(p string) string {
	p = strings.ReplaceAll(p, " ", "")
	if strings.Contains(p, ",") {
		return "{ " + strings.ReplaceAll(p, ",", ", ") + " }"
	}
	return p
}

func ruleComment(text string) string {
	if text == "" {
		return ""
	}
	// nft comments must not contain quotes.
	text = strings.ReplaceAll(text, `"`, "")
	return fmt.Sprintf(" comment %q", text)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
