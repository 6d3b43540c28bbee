package tcp_test

import (
	"testing"

	"github.com/kbirk/ipclink/pkg/channel"
	"github.com/kbirk/ipclink/pkg/channel/channeltest"
	"github.com/kbirk/ipclink/pkg/channel/tcp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lazyClientTransport struct {
	server *tcp.ServerTransport
	config tcp.ClientTransportConfig
}

// Connect resolves the server's ephemeral port on first use.
func (t *lazyClientTransport) Connect() (channel.Connection, error) {
	conf := t.config
	conf.Address = t.server.Addr().String()
	return tcp.NewClientTransport(conf).Connect()
}

func TestTCPTransport(t *testing.T) {
	for name, codec := range map[string]channel.Codec{
		"json":   channel.JSONCodec{},
		"binary": channel.BinaryCodec{},
	} {
		t.Run(name, func(t *testing.T) {
			server := tcp.NewServerTransport(tcp.ServerTransportConfig{
				Address: "127.0.0.1:0",
				NoDelay: true,
			})
			client := &lazyClientTransport{
				server: server,
				config: tcp.ClientTransportConfig{NoDelay: true},
			}
			channeltest.RunTransportSuite(t, server, client, codec)
		})
	}
}

func TestTCPServerTransportListenTwice(t *testing.T) {
	server := tcp.NewServerTransport(tcp.ServerTransportConfig{
		Address: "127.0.0.1:0",
	})
	require.NoError(t, server.Listen())
	defer server.Close()

	assert.Error(t, server.Listen())
	assert.NotNil(t, server.Addr())
}

func TestTCPAcceptAfterClose(t *testing.T) {
	server := tcp.NewServerTransport(tcp.ServerTransportConfig{
		Address: "127.0.0.1:0",
	})
	require.NoError(t, server.Listen())
	require.NoError(t, server.Close())

	_, err := server.Accept()
	assert.Error(t, err)
	assert.NoError(t, server.Close())
}

func TestTCPClientConnectRefused(t *testing.T) {
	server := tcp.NewServerTransport(tcp.ServerTransportConfig{
		Address: "127.0.0.1:0",
	})
	require.NoError(t, server.Listen())
	addr := server.Addr().String()
	require.NoError(t, server.Close())

	_, err := tcp.NewClientTransport(tcp.ClientTransportConfig{Address: addr}).Connect()
	assert.Error(t, err)
}

func TestLoadTLSConfigMissingFiles(t *testing.T) {
	_, err := tcp.LoadServerTLSConfig("missing.pem", "missing.key")
	assert.Error(t, err)

	_, err = tcp.LoadClientTLSConfig("missing-ca.pem", false)
	assert.Error(t, err)

	conf, err := tcp.LoadClientTLSConfig("", true)
	require.NoError(t, err)
	assert.True(t, conf.InsecureSkipVerify)
}
