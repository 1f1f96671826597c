package client

import (
	"net/rpc"

	"github.com/pyropy/dbs/lib/logger"
	"github.com/pyropy/dbs/rpc/peer"
)

var log, _ = logger.New("client")

// Client issues backup service requests to a local peer.
type Client struct {
	RpcClient *rpc.Client
}

func NewClient(peerAddr string) (*Client, error) {
	rpcClient, err := rpc.DialHTTP("tcp", peerAddr)
	if err != nil {
		return nil, err
	}

	return &Client{
		RpcClient: rpcClient,
	}, nil
}

func (c *Client) call(method string, args, reply any) error {
	log.Debugw("rpc", "event", peer.ServiceName+"."+method)
	return c.RpcClient.Call(peer.ServiceName+"."+method, args, reply)
}

func (c *Client) Backup(path string, replicationDegree int) (*peer.BackupReply, error) {
	var reply peer.BackupReply
	args := &peer.BackupArgs{FilePath: path, ReplicationDegree: replicationDegree}

	err := c.call("Backup", args, &reply)
	if err != nil {
		return nil, err
	}

	return &reply, nil
}

func (c *Client) Restore(path, out string) (*peer.RestoreReply, error) {
	var reply peer.RestoreReply
	args := &peer.RestoreArgs{FilePath: path, OutputPath: out}

	err := c.call("Restore", args, &reply)
	if err != nil {
		return nil, err
	}

	return &reply, nil
}

func (c *Client) Delete(path string) error {
	var reply peer.DeleteReply
	return c.call("Delete", &peer.DeleteArgs{FilePath: path}, &reply)
}

func (c *Client) Reclaim(kilobytes int64) (*peer.ReclaimReply, error) {
	var reply peer.ReclaimReply

	err := c.call("Reclaim", &peer.ReclaimArgs{Kilobytes: kilobytes}, &reply)
	if err != nil {
		return nil, err
	}

	return &reply, nil
}

func (c *Client) State() (*peer.StateReply, error) {
	var reply peer.StateReply

	err := c.call("State", &peer.StateArgs{}, &reply)
	if err != nil {
		return nil, err
	}

	return &reply, nil
}

func (c *Client) Close() error {
	return c.RpcClient.Close()
}
