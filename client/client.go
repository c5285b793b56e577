// Package client talks to the server's control plane.
package client

import (
	"context"
	"encoding/binary"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/hashicorp/yamux"
	"github.com/samber/oops"

	"github.com/teamx/teamx-server/proto"
)

type Client struct {
	rpcServer *rpc.Server
	conn      net.Conn
	sess      *yamux.Session

	ClientId int32
	*rpc.Client
}

func NewClient() *Client {
	return &Client{
		rpcServer: rpc.NewServer(),
	}
}

// Dial connects to the control address and completes the handshake.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, oops.In("client").With("addr", addr).Wrapf(err, "dial control plane")
	}
	c := NewClient()
	if err := c.Start(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) doServer(sess *yamux.Session) {
	serverConn, err := sess.Accept()
	if err != nil {
		return
	}
	c.rpcServer.ServeCodec(jsonrpc.NewServerCodec(serverConn))
}

func (c *Client) doClient(sess *yamux.Session) error {
	clientConn, err := sess.Open()
	if err != nil {
		return oops.In("client").Wrapf(err, "open rpc stream")
	}
	c.Client = rpc.NewClientWithCodec(jsonrpc.NewClientCodec(clientConn))
	return nil
}

// Start reads the connection id and sets up both RPC directions over conn.
// Register services before calling Start.
func (c *Client) Start(conn net.Conn) error {
	if err := binary.Read(conn, binary.BigEndian, &c.ClientId); err != nil {
		return oops.In("client").Wrapf(err, "read connection id")
	}

	sess, err := yamux.Client(conn, nil)
	if err != nil {
		return oops.In("client").Wrapf(err, "yamux client")
	}
	c.conn = conn
	c.sess = sess

	go c.doServer(sess)
	return c.doClient(sess)
}

func (c *Client) RegisterService(name string, service any) error {
	return c.rpcServer.RegisterName(name, service)
}

func (c *Client) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
	if c.sess != nil {
		c.sess.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) SetLevel(player uint64, tier string) error {
	return c.Call("Admin.SetLevel", &proto.SetLevelRequest{Player: player, Tier: tier}, new(proto.SetLevelResponse))
}

func (c *Client) RenamePlayer(player uint64, name string) error {
	return c.Call("Admin.RenamePlayer", &proto.RenamePlayerRequest{Player: player, Name: name}, new(proto.RenamePlayerResponse))
}

func (c *Client) ListPlayers(pattern string) ([]proto.PlayerInfo, error) {
	rep := new(proto.ListPlayersResponse)
	if err := c.Call("Admin.ListPlayers", &proto.ListPlayersRequest{Pattern: pattern}, rep); err != nil {
		return nil, err
	}
	return rep.Players, nil
}

func (c *Client) Save() (string, error) {
	rep := new(proto.SaveResponse)
	if err := c.Call("Admin.Save", &proto.SaveRequest{}, rep); err != nil {
		return "", err
	}
	return rep.Path, nil
}

func (c *Client) Status() (proto.StatusResponse, error) {
	var rep proto.StatusResponse
	err := c.Call("Admin.Status", &proto.StatusRequest{}, &rep)
	return rep, err
}

// MonitorService receives Monitor.Event calls from the server.
type MonitorService struct {
	events chan<- proto.Event
}

func (m *MonitorService) Event(req *proto.Event, rep *proto.EventResponse) error {
	m.events <- *req
	return nil
}

// Watch asks the server to push events and delivers them on the returned
// channel. The channel is never closed; stop by closing the client. Watch may
// be called once per client.
func (c *Client) Watch(buffer int) (<-chan proto.Event, error) {
	ch := make(chan proto.Event, buffer)
	if err := c.RegisterService("Monitor", &MonitorService{events: ch}); err != nil {
		return nil, oops.In("client").Wrapf(err, "register monitor")
	}
	if err := c.Call("Admin.Watch", &proto.WatchRequest{Id: c.ClientId}, new(proto.WatchResponse)); err != nil {
		return nil, err
	}
	return ch, nil
}
