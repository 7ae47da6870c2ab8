// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtsp

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/q191201771/lalrtp/pkg/base"
)

// RelayServer 接收tcp订阅者的连接
//
// 订阅者连接后先发送一行文本，格式为 `<stream name>[ <media index>=<payload type>...]\r\n`，
// 服务端回复 `OK\r\n` 后开始推送interleaved格式的rtp、rtcp，出错时回复 `ERR <reason>\r\n` 并关闭连接
type RelayServer struct {
	addr string
	hub  *RelayHub

	ln net.Listener
}

const relayHandshakeTimeoutMs = 5000

func NewRelayServer(addr string, hub *RelayHub) *RelayServer {
	return &RelayServer{
		addr: addr,
		hub:  hub,
	}
}

func (s *RelayServer) Listen() (err error) {
	s.ln, err = net.Listen("tcp", s.addr)
	if err != nil {
		return
	}
	Log.Infof("start relay server listen. addr=%s", s.addr)
	return
}

// Addr Listen成功后有效，addr配置端口为0时用于获取实际端口
func (s *RelayServer) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *RelayServer) RunLoop() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		go s.handleTcpConnect(conn)
	}
}

func (s *RelayServer) Dispose() {
	if s.ln == nil {
		return
	}
	if err := s.ln.Close(); err != nil {
		Log.Error(err)
	}
}

func (s *RelayServer) handleTcpConnect(conn net.Conn) {
	Log.Infof("accept a relay connection. remoteAddr=%s", conn.RemoteAddr().String())

	_ = conn.SetReadDeadline(time.Now().Add(relayHandshakeTimeoutMs * time.Millisecond))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		Log.Warnf("read relay handshake failed. remoteAddr=%s, err=%+v", conn.RemoteAddr().String(), err)
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	name, option, err := ParseRelayHandshake(line)
	if err == nil {
		var stream *RelayStream
		if stream, err = s.hub.Lookup(name); err == nil {
			if _, err = conn.Write([]byte("OK\r\n")); err == nil {
				_, err = stream.AddTcpSubscriber(conn, option)
				if err == nil {
					return
				}
				_ = conn.Close()
				Log.Warnf("add relay subscriber failed. name=%s, err=%+v", name, err)
				return
			}
		}
	}

	Log.Warnf("relay handshake failed. remoteAddr=%s, line=%q, err=%+v", conn.RemoteAddr().String(), line, err)
	_, _ = conn.Write([]byte(fmt.Sprintf("ERR %s\r\n", err.Error())))
	_ = conn.Close()
}

// ParseRelayHandshake 解析订阅者发来的第一行
func ParseRelayHandshake(line string) (name string, option RelaySubscriberOption, err error) {
	items := strings.Fields(line)
	if len(items) == 0 {
		return "", option, fmt.Errorf("%w. empty relay handshake", base.ErrRtsp)
	}
	name = items[0]
	for _, item := range items[1:] {
		kv := strings.SplitN(item, "=", 2)
		if len(kv) != 2 {
			return "", option, fmt.Errorf("%w. invalid relay handshake item. item=%s", base.ErrRtsp, item)
		}
		index, err1 := strconv.Atoi(kv[0])
		pt, err2 := strconv.ParseUint(kv[1], 10, 7)
		if err1 != nil || err2 != nil || index < 0 {
			return "", option, fmt.Errorf("%w. invalid relay handshake item. item=%s", base.ErrRtsp, item)
		}
		if option.PayloadTypes == nil {
			option.PayloadTypes = make(map[int]uint8)
		}
		option.PayloadTypes[index] = uint8(pt)
	}
	return name, option, nil
}
