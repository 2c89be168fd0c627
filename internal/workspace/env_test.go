package workspace

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotResolve(t *testing.T) {
	env := NewSnapshot()
	env.Set("system", map[string]string{"base_dir": "/work"})
	env.Set("sn1", map[string]string{"ip": "10.77.0.5", "device_id": "sn1"})

	out, err := env.Resolve("ping -c1 {{sn1.ip}} && echo {{system.base_dir}}/done")
	require.NoError(t, err)
	assert.Equal(t, "ping -c1 10.77.0.5 && echo /work/done", out)
}

func TestSnapshotResolveWithoutReferences(t *testing.T) {
	env := NewSnapshot()
	out, err := env.Resolve("systemctl restart nodeos")
	require.NoError(t, err)
	assert.Equal(t, "systemctl restart nodeos", out)
}

func TestSnapshotResolveUnknownObject(t *testing.T) {
	env := NewSnapshot()
	env.Set("sn1", map[string]string{"ip": "10.77.0.5"})

	out, err := env.Resolve("echo {{sn2.ip}}")
	assert.Empty(t, out)

	var unresolved *UnresolvedReferenceError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, "sn2", unresolved.Object)
	assert.Empty(t, unresolved.Attribute)
}

func TestSnapshotResolveUnknownAttribute(t *testing.T) {
	env := NewSnapshot()
	env.Set("sn1", map[string]string{"ip": "10.77.0.5"})

	_, err := env.Resolve("echo {{sn1.mac}}")

	var unresolved *UnresolvedReferenceError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, "sn1", unresolved.Object)
	assert.Equal(t, "mac", unresolved.Attribute)
}

func TestSnapshotResolveNeverPartiallySubstitutes(t *testing.T) {
	env := NewSnapshot()
	env.Set("sn1", map[string]string{"ip": "10.77.0.5"})

	// first reference resolves, second does not; output must stay empty
	out, err := env.Resolve("echo {{sn1.ip}} {{sn2.ip}}")
	require.Error(t, err)
	assert.Empty(t, out)
}

func TestSnapshotSetKeepsInsertionOrder(t *testing.T) {
	env := NewSnapshot()
	env.Set("system", map[string]string{})
	env.Set("b", map[string]string{"ip": "1"})
	env.Set("a", map[string]string{"ip": "2"})
	env.Set("b", map[string]string{"ip": "3"})

	assert.Equal(t, []string{"system", "b", "a"}, env.Keys())

	v, err := env.Lookup("b", "ip")
	require.NoError(t, err)
	assert.Equal(t, "3", v)
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	env := NewSnapshot()
	env.Set("sn1", map[string]string{"ip": "10.77.0.5"})

	clone := env.Clone()
	clone.Set("sn1", map[string]string{"ip": "10.77.0.9"})
	clone.Set("app1", map[string]string{"zone_id": "zone-a"})

	v, err := env.Lookup("sn1", "ip")
	require.NoError(t, err)
	assert.Equal(t, "10.77.0.5", v)

	_, err = env.Lookup("app1", "zone_id")
	assert.Error(t, err)
}

func TestSnapshotResolveAllStopsAtFirstFailure(t *testing.T) {
	env := NewSnapshot()
	env.Set("sn1", map[string]string{"ip": "10.77.0.5"})

	resolved, err := env.ResolveAll([]string{"echo {{sn1.ip}}", "echo {{missing.ip}}"})
	require.Error(t, err)
	assert.Nil(t, resolved)
}
