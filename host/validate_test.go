package host_test

import (
	"strings"
	"testing"

	"github.com/advdv/bdispatch/host"
	"github.com/stretchr/testify/assert"
)

func TestValidMethod(t *testing.T) {
	assert.True(t, host.ValidMethod("GET"))
	assert.True(t, host.ValidMethod("PROPFIND"))
	assert.False(t, host.ValidMethod(""))
	assert.False(t, host.ValidMethod("get"))
	assert.False(t, host.ValidMethod("GE T"))
	assert.False(t, host.ValidMethod(strings.Repeat("A", host.MethodLimit+1)))
}

func TestCleanTarget(t *testing.T) {
	assert.Equal(t, "login.x", host.CleanTarget("/login.x"))
	assert.Equal(t, "login.x", host.CleanTarget("///login.x"))
	assert.Equal(t, "index.html", host.CleanTarget("/"))
	assert.Equal(t, "index.html", host.CleanTarget(""))
}

func TestValidTarget(t *testing.T) {
	for target, expect := range map[string]bool{
		"index.html":          true,
		"login.x":             true,
		"login.x?user=a&b=c":  true,
		"api/v1/users.server": true,
		"api/v1/":             true,
		"api/v1/?x=1":         true,
		"noext":               true,
		"noext?x":             true,
		"file.":               true,
		"a_b-c/d_e.tar":       true,
		"api//users.x":        false,
		"api/.x":              false,
		"../etc/passwd":       false,
		"a.b.c":               false,
		"a.b/c":               false,
		"?x=1":                false,
		"spa ce.x":            false,
		"percent%20.x":        false,
		"":                    false,
	} {
		assert.Equal(t, expect, host.ValidTarget(target), target)
	}

	assert.False(t, host.ValidTarget(strings.Repeat("a", host.URILimit+1)))
}
