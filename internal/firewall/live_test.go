package firewall

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"meridian-router.dev/meridian/internal/store"
)

const sampleRuleset = `table inet meridian { # handle 1
	chain input { # handle 1
		type filter hook input priority filter; policy drop;
		iif "lo" accept # handle 2
		ct state established,related accept # handle 3
		tcp dport 22 accept comment "ssh" # handle 4
	}
	chain forward { # handle 2
		type filter hook forward priority filter; policy drop;
	}
}
table ip meridian_nat { # handle 2
	chain prerouting { # handle 1
		type nat hook prerouting priority dstnat; policy accept;
		tcp dport 443 dnat to 10.0.0.5:8443 comment "web" # handle 2
	}
}
`

func TestParseRuleset(t *testing.T) {
	tables := ParseRuleset(sampleRuleset)
	require.Len(t, tables, 2)

	require.Equal(t, "inet", tables[0].Family)
	require.Equal(t, "meridian", tables[0].Name)
	require.Len(t, tables[0].Chains, 2)

	input := tables[0].Chains[0]
	require.Equal(t, "input", input.Name)
	require.Contains(t, input.Type, "hook input")
	require.Len(t, input.Rules, 3)

	ssh := input.Rules[2]
	require.Equal(t, "tcp dport 22 accept", ssh.Text)
	require.Equal(t, "ssh", ssh.Comment)
	require.Equal(t, 4, ssh.Handle)

	nat := tables[1]
	require.Equal(t, "ip", nat.Family)
	require.Equal(t, "meridian_nat", nat.Name)
	require.Len(t, nat.Chains[0].Rules, 1)
	require.Equal(t, "web", nat.Chains[0].Rules[0].Comment)
}

func TestParseRulesetEmpty(t *testing.T) {
	require.Empty(t, ParseRuleset(""))
	require.Empty(t, ParseRuleset("# nothing here\n"))
}

func TestAddLiveRule(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	orig := runNft
	defer func() { runNft = orig }()
	var calls []string
	runNft = func(ctx context.Context, stdin string, args ...string) (string, error) {
		calls = append(calls, strings.Join(args, " "))
		return "", nil
	}

	rule := &store.FirewallRule{
		Name: "ssh", Chain: "input", Protocol: "tcp",
		DstPort: "22", Action: "accept", Enabled: true,
	}
	require.NoError(t, m.AddLiveRule(ctx, rule))

	require.Len(t, calls, 3)
	require.Equal(t, "add table inet meridian", calls[0])
	require.Contains(t, calls[1], "add chain inet meridian input")
	require.Equal(t, "add rule inet meridian input tcp dport 22 accept", calls[2])
}

func TestAddLivePortForward(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	orig := runNft
	defer func() { runNft = orig }()
	var calls []string
	runNft = func(ctx context.Context, stdin string, args ...string) (string, error) {
		calls = append(calls, strings.Join(args, " "))
		return "", nil
	}

	forward := &store.PortForward{
		Name: "web", Protocol: "tcp", ExternalPort: 443,
		DestIP: "10.0.0.5", DestPort: 8443, Enabled: true,
	}
	require.NoError(t, m.AddLivePortForward(ctx, forward))

	joined := strings.Join(calls, "\n")
	require.Contains(t, joined, "add table ip meridian_nat")
	require.Contains(t, joined, "tcp dport 443 dnat to 10.0.0.5:8443")
	require.Contains(t, joined, "ip daddr 10.0.0.5 tcp dport 8443 accept")
}
