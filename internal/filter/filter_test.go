package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neutron/internal/errors"
	"neutron/internal/target"
)

var inventory = []target.Target{
	{Host: "web1.prod.example.com", Port: 22, Kind: target.KindSSH},
	{Host: "db1.prod.example.com", Port: 2222, Kind: target.KindSSH},
	{Host: "dc01.corp.local", Port: 5985, Kind: target.KindWinRM},
	{Host: "web2.prod.example.com", Port: 22, Kind: target.KindSSH},
	{Host: "10.0.0.9", Port: 5986, Kind: target.KindWinRM},
}

func hosts(targets []target.Target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.Host
	}
	return out
}

func TestParseAndFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expression string
		expected   []string
	}{
		{"", []string{"web1.prod.example.com", "db1.prod.example.com", "dc01.corp.local", "web2.prod.example.com", "10.0.0.9"}},
		{"host:web*", []string{"web1.prod.example.com", "web2.prod.example.com"}},
		{"host:regex:^db", []string{"db1.prod.example.com"}},
		{"kind:winrm", []string{"dc01.corp.local", "10.0.0.9"}},
		{"!kind:winrm", []string{"web1.prod.example.com", "db1.prod.example.com", "web2.prod.example.com"}},
		{"kind:ssh port:22", []string{"web1.prod.example.com", "web2.prod.example.com"}},
		{"port:2222,5986", []string{"db1.prod.example.com", "10.0.0.9"}},
		{"host:*.corp.local kind:ssh", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			filters, err := ParseFilterExpression(tt.expression)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, hosts(FilterTargets(inventory, filters...)))
		})
	}
}

func TestWildcardIsLiteralOtherwise(t *testing.T) {
	t.Parallel()

	f, err := NewHostFilter("web1.prod.example.com", false)
	require.NoError(t, err)
	assert.True(t, f.Match(inventory[0]))
	assert.False(t, f.Match(target.Target{Host: "web1xprodxexamplexcom"}))
}

func TestParseRejectsInvalidTerms(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"tag:web", "kind:telnet", "port:abc", "port:70000", "host:regex:(["} {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseFilterExpression(expr)
			require.Error(t, err)
			assert.True(t, errors.IsConfig(err))
		})
	}
}

func TestCompositeFilter(t *testing.T) {
	t.Parallel()

	web, err := NewHostFilter("web*", false)
	require.NoError(t, err)
	windows := NewKindFilter([]target.Kind{target.KindWinRM}, nil)

	or := NewCompositeFilter("or", web, windows)
	assert.Equal(t, []string{"web1.prod.example.com", "dc01.corp.local", "web2.prod.example.com", "10.0.0.9"}, hosts(FilterTargets(inventory, or)))
	assert.Equal(t, "(host pattern: web* OR kind: winrm)", or.String())

	and := NewCompositeFilter("and", web, windows)
	assert.Empty(t, FilterTargets(inventory, and))

	assert.True(t, NewCompositeFilter("and").Match(inventory[0]))
}

func TestGroupTargets(t *testing.T) {
	t.Parallel()

	groups, err := GroupTargets(inventory, "kind")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "ssh", groups[0].Name)
	assert.Equal(t, []string{"web1.prod.example.com", "db1.prod.example.com", "web2.prod.example.com"}, hosts(groups[0].Targets))
	assert.Equal(t, "winrm", groups[1].Name)

	groups, err = GroupTargets(inventory, "domain")
	require.NoError(t, err)
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Name
	}
	assert.Equal(t, []string{"(none)", "corp.local", "prod.example.com"}, names)

	_, err = GroupTargets(inventory, "tag")
	assert.True(t, errors.IsConfig(err))
}
