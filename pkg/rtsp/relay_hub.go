// Copyright 2021, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtsp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/naza/pkg/connection"
	"github.com/q191201771/naza/pkg/nazaatomic"
	"github.com/q191201771/naza/pkg/nazaerrors"
	"github.com/q191201771/naza/pkg/nazanet"
)

// RelayHub 服务端的流转发
//
// 一路流(RelayStream)由名字标识，有一个发布者(一般是MediaSource的原始rtp/rtcp回调)和多个订阅者
// 订阅者可以是tcp interleaved连接，也可以是udp
type RelayHub struct {
	metrics *Metrics

	mu      sync.Mutex
	streams map[string]*RelayStream
	closed  bool

	// 所有订阅者的读协程
	wg sync.WaitGroup
}

type RelayStream struct {
	uniqueKey string
	name      string
	hub       *RelayHub

	// 以下字段由hub.mu保护
	refCount     int
	hasPublisher bool

	subMu sync.RWMutex
	subs  map[string]iRelaySubscriber

	rtpCount  nazaatomic.Uint64
	rtcpCount nazaatomic.Uint64
	byeCount  nazaatomic.Uint32
}

// RelaySubscriberOption
type RelaySubscriberOption struct {
	// PayloadTypes 按media序号改写rtp包的payload type，不在map中的media保持原样
	PayloadTypes map[int]uint8
}

type iRelaySubscriber interface {
	UniqueKey() string
	WriteRtp(mediaIndex int, b []byte) error
	WriteRtcp(mediaIndex int, b []byte) error
	Dispose() error
}

func NewRelayHub(metrics *Metrics) *RelayHub {
	return &RelayHub{
		metrics: metrics,
		streams: make(map[string]*RelayStream),
	}
}

// Acquire 获取流的句柄，不存在则创建，引用计数加1
//
// 每次成功的Acquire都需要对应一次 RelayStream.Release
func (h *RelayHub) Acquire(name string) (*RelayStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, base.ErrRtspHubClosed
	}
	s, ok := h.streams[name]
	if !ok {
		s = &RelayStream{
			uniqueKey: base.GenUkRelayStream(),
			name:      name,
			hub:       h,
			subs:      make(map[string]iRelaySubscriber),
		}
		h.streams[name] = s
		Log.Infof("[%s] lifecycle new relay stream. name=%s", s.uniqueKey, name)
	}
	s.refCount++
	return s, nil
}

// Lookup 不增加引用计数
func (h *RelayHub) Lookup(name string) (*RelayStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[name]
	if !ok {
		return nil, fmt.Errorf("%w. name=%s", base.ErrRtspStreamNotFound, name)
	}
	return s, nil
}

func (h *RelayHub) StreamCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// Shutdown 关闭所有订阅者，并等待所有订阅者的协程退出
//
// ctx超时则返回ctx的错误
func (h *RelayHub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	streams := make([]*RelayStream, 0, len(h.streams))
	for _, s := range h.streams {
		streams = append(streams, s)
	}
	h.streams = make(map[string]*RelayStream)
	h.mu.Unlock()

	var errs []error
	for _, s := range streams {
		errs = append(errs, s.disposeAllSubscribers())
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		Log.Warnf("relay hub shutdown not drained. err=%+v", ctx.Err())
		return ctx.Err()
	}
	Log.Infof("relay hub shutdown. streams=%d", len(streams))
	return nazaerrors.CombineErrors(errs...)
}

// ---------------------------------------------------------------------------------------------------------------------

func (s *RelayStream) UniqueKey() string {
	return s.uniqueKey
}

func (s *RelayStream) Name() string {
	return s.name
}

// Release 引用计数减1，最后一个引用释放时，从hub中删除，并关闭所有订阅者
func (s *RelayStream) Release() {
	h := s.hub
	h.mu.Lock()
	s.refCount--
	last := s.refCount <= 0
	if last && h.streams[s.name] == s {
		delete(h.streams, s.name)
	}
	h.mu.Unlock()

	if last {
		Log.Infof("[%s] lifecycle dispose relay stream. name=%s, rtp=%d, rtcp=%d",
			s.uniqueKey, s.name, s.rtpCount.Load(), s.rtcpCount.Load())
		_ = s.disposeAllSubscribers()
	}
}

// Publish 标记发布者，一路流只能有一个发布者
func (s *RelayStream) Publish() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.hasPublisher {
		return fmt.Errorf("%w. name=%s", base.ErrRtspDupPublisher, s.name)
	}
	s.hasPublisher = true
	return nil
}

func (s *RelayStream) Unpublish() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hasPublisher = false
}

// FeedRtp 发布者输入rtp包，转发给所有订阅者
//
// 函数调用结束后，内部不持有<b>
func (s *RelayStream) FeedRtp(mediaIndex int, b []byte) {
	s.rtpCount.Increment()
	s.broadcast(func(sub iRelaySubscriber) error {
		return sub.WriteRtp(mediaIndex, b)
	})
}

// FeedRtcp 发布者输入rtcp包，转发给所有订阅者
func (s *RelayStream) FeedRtcp(mediaIndex int, b []byte) {
	s.rtcpCount.Increment()
	if isRtcpBye(b) {
		s.byeCount.Increment()
		Log.Infof("[%s] publisher sent bye. media=%d", s.uniqueKey, mediaIndex)
	}
	s.broadcast(func(sub iRelaySubscriber) error {
		return sub.WriteRtcp(mediaIndex, b)
	})
}

func (s *RelayStream) ByeCount() uint32 {
	return s.byeCount.Load()
}

func (s *RelayStream) SubscriberCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subs)
}

// AddTcpSubscriber 订阅者通过tcp接收interleaved格式的数据，media i的rtp、rtcp分别使用channel 2i、2i+1
//
// 内部会启动协程读取订阅者发来的数据(一般是rtcp rr)，连接断开时自动移除订阅者
// 持有conn的所有权
//
// @return 订阅者的unique key
func (s *RelayStream) AddTcpSubscriber(conn net.Conn, option RelaySubscriberOption) (string, error) {
	sub := &relayTcpSubscriber{
		uniqueKey: base.GenUkRelaySubTcp(),
		option:    option,
		conn: connection.New(conn, func(o *connection.Option) {
			o.WriteChanSize = RelaySubscriberWriteChanSize
		}),
	}
	if err := s.addSubscriber(sub, func() { sub.runReadLoop(s) }); err != nil {
		_ = sub.conn.Close()
		return "", err
	}
	return sub.uniqueKey, nil
}

// AddUdpSubscriber 订阅者通过udp接收数据
//
// @param conn:      本地socket，持有所有权，内部会启动协程读取订阅者发来的rtcp
// @param rtpAddrs:  每个media的rtp目的地址，rtcp发往rtp端口加1
func (s *RelayStream) AddUdpSubscriber(conn *net.UDPConn, rtpAddrs []*net.UDPAddr, option RelaySubscriberOption) (string, error) {
	uc, err := newUdpConnection(conn, base.MaxRtpPacketSize)
	if err != nil {
		return "", err
	}
	sub := &relayUdpSubscriber{
		uniqueKey: base.GenUkRelaySubUdp(),
		option:    option,
		conn:      uc,
		rtpAddrs:  rtpAddrs,
	}
	if err := s.addSubscriber(sub, func() { sub.runReadLoop(s) }); err != nil {
		_ = uc.Dispose()
		return "", err
	}
	return sub.uniqueKey, nil
}

// RemoveSubscriber 关闭并移除订阅者
func (s *RelayStream) RemoveSubscriber(uniqueKey string) error {
	s.subMu.Lock()
	sub, ok := s.subs[uniqueKey]
	delete(s.subs, uniqueKey)
	s.subMu.Unlock()
	if !ok {
		return fmt.Errorf("%w. sub=%s", base.ErrRtspStreamNotFound, uniqueKey)
	}
	s.hub.metrics.addRelaySubscriber(s.name, -1)
	Log.Infof("[%s] remove subscriber. sub=%s", s.uniqueKey, uniqueKey)
	return sub.Dispose()
}

func (s *RelayStream) addSubscriber(sub iRelaySubscriber, readLoop func()) error {
	h := s.hub
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return base.ErrRtspHubClosed
	}
	h.wg.Add(1)
	h.mu.Unlock()

	s.subMu.Lock()
	s.subs[sub.UniqueKey()] = sub
	s.subMu.Unlock()
	h.metrics.addRelaySubscriber(s.name, 1)
	Log.Infof("[%s] add subscriber. sub=%s", s.uniqueKey, sub.UniqueKey())

	go func() {
		defer h.wg.Done()
		readLoop()
		// 读协程退出说明连接已经断开或者被关闭
		_ = s.RemoveSubscriber(sub.UniqueKey())
	}()
	return nil
}

func (s *RelayStream) broadcast(write func(sub iRelaySubscriber) error) {
	s.subMu.RLock()
	var failed []string
	for uk, sub := range s.subs {
		if err := write(sub); err != nil {
			Log.Warnf("[%s] write to subscriber failed. sub=%s, err=%+v", s.uniqueKey, uk, err)
			failed = append(failed, uk)
			continue
		}
		s.hub.metrics.onRelayPacket(s.name)
	}
	s.subMu.RUnlock()

	for _, uk := range failed {
		_ = s.RemoveSubscriber(uk)
	}
}

func (s *RelayStream) disposeAllSubscribers() error {
	s.subMu.Lock()
	subs := s.subs
	s.subs = make(map[string]iRelaySubscriber)
	s.subMu.Unlock()

	var errs []error
	for _, sub := range subs {
		s.hub.metrics.addRelaySubscriber(s.name, -1)
		errs = append(errs, sub.Dispose())
	}
	return nazaerrors.CombineErrors(errs...)
}

// ---------------------------------------------------------------------------------------------------------------------

type relayTcpSubscriber struct {
	uniqueKey string
	option    RelaySubscriberOption
	conn      connection.Connection
}

func (sub *relayTcpSubscriber) UniqueKey() string {
	return sub.uniqueKey
}

func (sub *relayTcpSubscriber) WriteRtp(mediaIndex int, b []byte) error {
	b, err := rewritePayloadType(b, sub.option.PayloadTypes, mediaIndex)
	if err != nil {
		return err
	}
	return sub.WriteInterleavedPacket(b, mediaIndex*2)
}

func (sub *relayTcpSubscriber) WriteRtcp(mediaIndex int, b []byte) error {
	return sub.WriteInterleavedPacket(b, RtpChannel2Rtcp(mediaIndex*2))
}

func (sub *relayTcpSubscriber) WriteInterleavedPacket(packet []byte, channel int) error {
	out, err := PackInterleaved(channel, packet)
	if err != nil {
		return err
	}
	_, err = sub.conn.Write(out)
	return err
}

func (sub *relayTcpSubscriber) Dispose() error {
	return sub.conn.Close()
}

// runReadLoop 订阅者发来的interleaved数据只做统计，不处理
func (sub *relayTcpSubscriber) runReadLoop(s *RelayStream) {
	r := bufio.NewReader(sub.conn)
	for {
		isInterleaved, packet, channel, err := ReadInterleaved(r)
		if err != nil {
			Log.Debugf("[%s] subscriber read loop done. err=%+v", sub.uniqueKey, err)
			return
		}
		if !isInterleaved {
			// 不是interleaved数据，按行丢弃
			if _, err = r.ReadSlice('\n'); err != nil && err != bufio.ErrBufferFull {
				return
			}
			continue
		}
		Log.Tracef("[%s] read interleaved from subscriber. stream=%s, channel=%d, len=%d",
			sub.uniqueKey, s.name, channel, len(packet))
	}
}

type relayUdpSubscriber struct {
	uniqueKey string
	option    RelaySubscriberOption
	conn      *nazanet.UdpConnection
	rtpAddrs  []*net.UDPAddr
}

func (sub *relayUdpSubscriber) UniqueKey() string {
	return sub.uniqueKey
}

func (sub *relayUdpSubscriber) WriteRtp(mediaIndex int, b []byte) error {
	if mediaIndex < 0 || mediaIndex >= len(sub.rtpAddrs) {
		return nil
	}
	b, err := rewritePayloadType(b, sub.option.PayloadTypes, mediaIndex)
	if err != nil {
		return err
	}
	return sub.conn.Write2Addr(b, sub.rtpAddrs[mediaIndex])
}

func (sub *relayUdpSubscriber) WriteRtcp(mediaIndex int, b []byte) error {
	if mediaIndex < 0 || mediaIndex >= len(sub.rtpAddrs) {
		return nil
	}
	rtpAddr := sub.rtpAddrs[mediaIndex]
	return sub.conn.Write2Addr(b, &net.UDPAddr{IP: rtpAddr.IP, Port: rtpAddr.Port + 1, Zone: rtpAddr.Zone})
}

func (sub *relayUdpSubscriber) Dispose() error {
	return sub.conn.Dispose()
}

func (sub *relayUdpSubscriber) runReadLoop(s *RelayStream) {
	_ = sub.conn.RunLoop(func(b []byte, raddr *net.UDPAddr, err error) bool {
		if err != nil {
			Log.Debugf("[%s] subscriber read loop done. err=%+v", sub.uniqueKey, err)
			return false
		}
		Log.Tracef("[%s] read udp from subscriber. stream=%s, addr=%s, len=%d", sub.uniqueKey, s.name, raddr.String(), len(b))
		return true
	})
}

// ---------------------------------------------------------------------------------------------------------------------

// rewritePayloadType 按订阅者的要求改写payload type
//
// @return 不需要改写时返回<b>本身，否则返回新申请的内存块
func rewritePayloadType(b []byte, pts map[int]uint8, mediaIndex int) ([]byte, error) {
	pt, ok := pts[mediaIndex]
	if !ok {
		return b, nil
	}
	var h rtp.Header
	n, err := h.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	if h.PayloadType == pt {
		return b, nil
	}
	h.PayloadType = pt
	hb, err := h.Marshal()
	if err != nil {
		return nil, err
	}
	return append(hb, b[n:]...), nil
}

func isRtcpBye(b []byte) bool {
	pkts, err := rtcp.Unmarshal(b)
	if err != nil {
		return false
	}
	for _, p := range pkts {
		if _, ok := p.(*rtcp.Goodbye); ok {
			return true
		}
	}
	return false
}
