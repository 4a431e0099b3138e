package docker

import (
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/secuscan/internal/service"
)

func TestPortMaps(t *testing.T) {
	exposed, bindings, err := portMaps([]service.PortBinding{
		{ContainerPort: "9000/tcp", HostPort: "9000"},
		{ContainerPort: "8000", HostPort: "18000"},
	})
	require.NoError(t, err)

	assert.Contains(t, exposed, nat.Port("9000/tcp"))
	assert.Contains(t, exposed, nat.Port("8000/tcp"))
	assert.Equal(t, []nat.PortBinding{{HostPort: "18000"}}, bindings[nat.Port("8000/tcp")])

	_, _, err = portMaps([]service.PortBinding{{ContainerPort: "http/tcp"}})
	assert.Error(t, err)

	exposed, bindings, err = portMaps(nil)
	require.NoError(t, err)
	assert.Nil(t, exposed)
	assert.Nil(t, bindings)
}

func TestEnvList(t *testing.T) {
	got := envList(map[string]string{"SONAR_TOKEN": "t", "SONAR_HOST_URL": "http://secuscan-sonarqube:9000"})
	assert.Equal(t, []string{"SONAR_HOST_URL=http://secuscan-sonarqube:9000", "SONAR_TOKEN=t"}, got)
}

func TestBinds(t *testing.T) {
	got := binds([]service.Mount{
		{Source: "sonarqube_data", Target: "/opt/sonarqube/data"},
		{Source: "/home/dev/app", Target: "/usr/src", ReadOnly: true},
	})
	assert.Equal(t, []string{"sonarqube_data:/opt/sonarqube/data:rw", "/home/dev/app:/usr/src:ro"}, got)
}
