// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtsp

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/lalrtp/pkg/rtprtcp"
	"github.com/q191201771/naza/pkg/nazabytes"
	"github.com/q191201771/naza/pkg/nazaerrors"
	"github.com/q191201771/naza/pkg/nazanet"
)

const (
	StateIdle    = "idle"
	StateReading = "reading"
	StateStopped = "stopped"

	eventStart = "start"
	eventStop  = "stop"
	eventError = "error"
)

const defaultRtcpTickIntervalMs = 200

type MediaSourceOption struct {
	// Name 日志和metrics中使用，为空时使用unique key
	Name string

	// PayloadType sdp中协商好的payload type，不匹配的rtp包直接丢弃
	PayloadType uint8

	Unpacker rtprtcp.RtpUnpackerOption

	// ReorderThresholdUs 乱序队列等待丢失包的时长，为0时表示不等待
	ReorderThresholdUs int64

	Rtcp rtprtcp.RtcpOption

	// Ssrc 我们自己的ssrc，为0时随机生成
	Ssrc uint32

	// RtpConn RtcpConn udp模式时使用，MediaSource接管其生命周期
	RtpConn  *net.UDPConn
	RtcpConn *net.UDPConn

	// RtcpDest 发送rtcp的目的地址，为nil时使用第一个收到的rtcp包的来源地址
	RtcpDest *net.UDPAddr

	// InterleavedWriter rtp over tcp时使用，rtcp通过它发送
	InterleavedWriter IInterleavedPacketWriter
	RtpChannel        int

	// RtcpTickIntervalMs 检查是否该发送rtcp report的周期，小于0时不启动定时器，由外部调用 OnTimer
	RtcpTickIntervalMs int

	// RtcpForceSendIntervalMs 收到rtcp时，距离上次发送超过该时长则立即发送report，为0时使用 base.RtcpForceSendDurationMs
	RtcpForceSendIntervalMs int

	// MaxPacketSize udp读取的单个包上限，为0时使用 base.MaxRtpPacketSize
	MaxPacketSize int

	// DumpFilename 不为空时，把收到的原始rtp、rtcp包写入该文件，用于调试
	DumpFilename string

	Metrics *Metrics

	// Now 为nil时使用time.Now
	Now func() time.Time
}

type ModMediaSourceOption func(option *MediaSourceOption)

// OnRawPacket 回调结束后<b>的内存会被复用
type OnRawPacket func(b []byte)

// MediaSource 一路media的接收端
//
// 收到的rtp包依次经过 解析 -> payload type检查 -> 接收统计 -> 乱序队列 -> 合帧，
// 收到的rtcp包交给 rtprtcp.RtcpInstance 处理，并按rfc3550的调度发送rr
//
// 所有回调都在持有内部锁的情况下发生，回调中不能调用 StopReading
type MediaSource struct {
	uniqueKey string
	name      string
	option    MediaSourceOption
	now       func() time.Time

	mu       sync.Mutex
	fsm      *fsm.FSM
	queue    *rtprtcp.ReorderingQueue
	unpacker *rtprtcp.RtpUnpacker
	statsDb  *rtprtcp.ReceptionStatsDb
	rtcp     *rtprtcp.RtcpInstance
	rtpConn  *nazanet.UdpConnection
	rtcpConn *nazanet.UdpConnection
	rtcpDest *net.UDPAddr

	onFrame   rtprtcp.OnFrame
	onRawRtp  OnRawPacket
	onRawRtcp OnRawPacket

	rtpDump  base.LogDump
	rtcpDump base.LogDump
	dumpFile *base.DumpFile

	wg          sync.WaitGroup
	tickerStop  chan struct{}
	waitChan    chan error
	disposeOnce sync.Once
}

// NewMediaSource 编解码相关的配置错误会在这里同步返回
func NewMediaSource(modOptions ...ModMediaSourceOption) (*MediaSource, error) {
	option := MediaSourceOption{
		ReorderThresholdUs: base.DefaultReorderThresholdUs,
		RtcpTickIntervalMs: defaultRtcpTickIntervalMs,
	}
	for _, fn := range modOptions {
		fn(&option)
	}

	s := &MediaSource{
		uniqueKey: base.GenUkMediaSource(),
		option:    option,
		now:       option.Now,
		queue:     rtprtcp.NewReorderingQueue(option.ReorderThresholdUs),
		statsDb:   rtprtcp.NewReceptionStatsDb(),
		rtcpDest:  option.RtcpDest,
		rtpDump:   base.NewLogDump(Log, debugLogMaxCount),
		rtcpDump:  base.NewLogDump(Log, debugLogMaxCount),
		waitChan:  make(chan error, 1),
	}
	s.name = option.Name
	if s.name == "" {
		s.name = s.uniqueKey
	}
	if s.now == nil {
		s.now = time.Now
	}

	var err error
	if s.unpacker, err = rtprtcp.NewRtpUnpacker(option.Unpacker, s.onUnpackedFrame); err != nil {
		Log.Errorf("[%s] create unpacker failed. codec=%s, err=%+v", s.uniqueKey, option.Unpacker.CodecName, err)
		return nil, err
	}

	if option.DumpFilename != "" {
		s.dumpFile = base.NewDumpFile()
		if err = s.dumpFile.OpenToWrite(option.DumpFilename); err != nil {
			Log.Errorf("[%s] open dump file failed. filename=%s, err=%+v", s.uniqueKey, option.DumpFilename, err)
			return nil, err
		}
	}
	if option.MaxPacketSize <= 0 {
		s.option.MaxPacketSize = base.MaxRtpPacketSize
	}
	if option.RtpConn != nil {
		if s.rtpConn, err = newUdpConnection(option.RtpConn, s.option.MaxPacketSize); err != nil {
			return nil, err
		}
	}
	if option.RtcpConn != nil {
		if s.rtcpConn, err = newUdpConnection(option.RtcpConn, s.option.MaxPacketSize); err != nil {
			return nil, err
		}
	}

	ssrc := option.Ssrc
	if ssrc == 0 {
		ssrc = rand.Uint32()
	}
	s.rtcp = rtprtcp.NewRtcpInstance(ssrc, s.statsDb, s.sendRtcp, s.now(), func(o *rtprtcp.RtcpOption) {
		if option.Rtcp.SessionBwKbps != 0 {
			o.SessionBwKbps = option.Rtcp.SessionBwKbps
		}
		if option.Rtcp.MinIntervalMs != 0 {
			o.MinIntervalMs = option.Rtcp.MinIntervalMs
		}
		o.Cname = option.Rtcp.Cname
		o.RandFloat = option.Rtcp.RandFloat
	})

	s.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle}, Dst: StateReading},
			{Name: eventStop, Src: []string{StateIdle, StateReading}, Dst: StateStopped},
			{Name: eventError, Src: []string{StateReading}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				Log.Infof("[%s] state %s -> %s. event=%s", s.uniqueKey, e.Src, e.Dst, e.Event)
			},
		},
	)

	Log.Infof("[%s] lifecycle new media source. name=%s, pt=%d, codec=%s, ssrc=%d",
		s.uniqueKey, s.name, option.PayloadType, option.Unpacker.CodecName, ssrc)
	return s, nil
}

func newUdpConnection(conn *net.UDPConn, maxPacketSize int) (*nazanet.UdpConnection, error) {
	return nazanet.NewUdpConnection(func(option *nazanet.UdpConnectionOption) {
		option.Conn = conn
		option.MaxReadPacketSize = maxPacketSize
	})
}

func (s *MediaSource) UniqueKey() string {
	return s.uniqueKey
}

func (s *MediaSource) Name() string {
	return s.name
}

func (s *MediaSource) State() string {
	return s.fsm.Current()
}

// StartReading
//
// @param onRawRtp:  每个按序取出的rtp包，在合帧之前回调，可为nil
// @param onRawRtcp: 每个校验通过的rtcp包，可为nil
func (s *MediaSource) StartReading(onFrame rtprtcp.OnFrame, onRawRtp, onRawRtcp OnRawPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fsm.Event(context.Background(), eventStart); err != nil {
		return base.NewErrRtspSourceState(s.fsm.Current(), eventStart)
	}
	s.onFrame = onFrame
	s.onRawRtp = onRawRtp
	s.onRawRtcp = onRawRtcp

	if s.rtpConn != nil {
		s.runLoop(s.rtpConn, s.onReadRtpPacket)
	}
	if s.rtcpConn != nil {
		s.runLoop(s.rtcpConn, s.onReadRtcpPacket)
	}
	if s.option.RtcpTickIntervalMs >= 0 {
		interval := s.option.RtcpTickIntervalMs
		if interval == 0 {
			interval = defaultRtcpTickIntervalMs
		}
		s.tickerStop = make(chan struct{})
		s.wg.Add(1)
		go s.runTicker(time.Duration(interval)*time.Millisecond, s.tickerStop)
	}
	return nil
}

// StopReading 幂等
//
// 返回时，socket已关闭，乱序队列已清空，不会再有任何回调
// 如果知道对端地址，关闭socket前发送rr+bye
func (s *MediaSource) StopReading() error {
	s.mu.Lock()
	if s.fsm.Is(StateStopped) {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	wasReading := s.fsm.Is(StateReading)
	_ = s.fsm.Event(context.Background(), eventStop)

	var byeErr error
	if wasReading && s.hasRtcpDestination() {
		byeErr = s.rtcp.SendBye(s.now())
	}
	err := s.teardown(nil)
	s.mu.Unlock()

	s.wg.Wait()
	if byeErr != nil {
		Log.Warnf("[%s] send bye failed. err=%+v", s.uniqueKey, byeErr)
	}
	return err
}

// WaitChan StopReading时写入nil，socket出错时写入对应的错误
func (s *MediaSource) WaitChan() <-chan error {
	return s.waitChan
}

// ChangeDestination 修改rtcp report发送的目的地址
func (s *MediaSource) ChangeDestination(addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	Log.Infof("[%s] change rtcp destination. %v -> %v", s.uniqueKey, s.rtcpDest, addr)
	s.rtcpDest = addr
}

// OnRtpDatagram 收到一个rtp包，由udp或者tcp interleaved的传输层调用
//
// 函数调用结束后，内部不持有<b>
func (s *MediaSource) OnRtpDatagram(b []byte, from *net.UDPAddr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleRtpPacket(b)
}

// OnRtcpDatagram 收到一个rtcp包
//
// @param from: udp模式时的对端地址，没有设置目的地址时，用它作为rr的发送地址
func (s *MediaSource) OnRtcpDatagram(b []byte, from *net.UDPAddr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleRtcpPacket(b, from)
}

// FeedInterleaved rtp over tcp时，把读取到的interleaved包交给对应的source
func (s *MediaSource) FeedInterleaved(channel uint8, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch int(channel) {
	case s.option.RtpChannel:
		return s.handleRtpPacket(b)
	case RtpChannel2Rtcp(s.option.RtpChannel):
		return s.handleRtcpPacket(b, nil)
	}
	return fmt.Errorf("%w. unknown interleaved channel=%d", base.ErrRtsp, channel)
}

// OnTimer 检查是否到了发送rtcp report的时间，同时取出乱序队列中等待超时的包
//
// 默认由内部定时器周期性调用，RtcpTickIntervalMs小于0时，由外部调用
func (s *MediaSource) OnTimer(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fsm.Is(StateReading) {
		return
	}
	// 丢包后如果不再有新包到达，队列中剩下的包靠这里释放
	s.drain(now)
	s.updateReceptionMetrics()
	// udp模式下还没有收到过对端的rtcp，不知道往哪发
	if !s.hasRtcpDestination() {
		return
	}
	if _, err := s.rtcp.OnExpire(now); err != nil {
		Log.Warnf("[%s] send rtcp report failed. err=%+v", s.uniqueKey, err)
	}
}

func (s *MediaSource) ReceptionStats() []*rtprtcp.ReceptionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsDb.All()
}

func (s *MediaSource) UnpackerStat() rtprtcp.RtpUnpackerStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unpacker.Stat()
}

func (s *MediaSource) RtcpInstance() *rtprtcp.RtcpInstance {
	return s.rtcp
}

// ---------------------------------------------------------------------------------------------------------------------

func (s *MediaSource) handleRtpPacket(b []byte) error {
	if !s.fsm.Is(StateReading) {
		s.option.Metrics.onPacketRejected(s.name, RejectReasonState)
		return base.NewErrRtspSourceState(s.fsm.Current(), "rtp")
	}
	now := s.now()

	if s.rtpDump.ShouldDump() {
		s.rtpDump.Outf("[%s] read rtp. len=%d, data=%s", s.uniqueKey, len(b), hex.Dump(nazabytes.Prefix(b, 32)))
	}

	s.dump(b, base.DumpTypeRtp, now)

	pkt := s.queue.GetFreePacket()
	if err := pkt.Unpack(b, now); err != nil {
		s.queue.FreePacket(pkt)
		s.option.Metrics.onPacketRejected(s.name, RejectReasonMalformed)
		Log.Warnf("[%s] invalid rtp packet. len=%d, err=%+v", s.uniqueKey, len(b), err)
		return err
	}
	if pkt.Header.PacketType != s.option.PayloadType {
		pt := pkt.Header.PacketType
		s.queue.FreePacket(pkt)
		s.option.Metrics.onPacketRejected(s.name, RejectReasonPayloadType)
		Log.Warnf("[%s] rtp payload type mismatch. expected=%d, actual=%d", s.uniqueKey, s.option.PayloadType, pt)
		return fmt.Errorf("%w. payload type mismatch, expected=%d, actual=%d", base.ErrRtsp, s.option.PayloadType, pt)
	}

	s.statsDb.NoteIncomingPacket(pkt.Header.Ssrc, pkt.Header.Seq, pkt.Header.Timestamp, s.clockRate(), len(b), now)
	s.option.Metrics.onPacketReceived(s.name)

	if !s.queue.Store(pkt) {
		s.queue.FreePacket(pkt)
		s.option.Metrics.onPacketRejected(s.name, RejectReasonLate)
		return nil
	}

	s.drain(now)
	return nil
}

// drain 按序取出所有可以处理的包
func (s *MediaSource) drain(now time.Time) {
	for {
		pkt, lossPreceded := s.queue.PopReady(now)
		if pkt == nil {
			return
		}
		if lossPreceded && !pkt.IsFirstPacket {
			s.option.Metrics.onReorderGap(s.name)
		}
		if s.onRawRtp != nil {
			s.onRawRtp(pkt.Raw())
		}
		s.unpacker.Feed(pkt)
		s.queue.Release()
	}
}

func (s *MediaSource) handleRtcpPacket(b []byte, from *net.UDPAddr) error {
	if !s.fsm.Is(StateReading) {
		return base.NewErrRtspSourceState(s.fsm.Current(), "rtcp")
	}
	now := s.now()

	if s.rtcpDump.ShouldDump() {
		s.rtcpDump.Outf("[%s] read rtcp. len=%d, data=%s", s.uniqueKey, len(b), hex.Dump(nazabytes.Prefix(b, 32)))
	}

	s.dump(b, base.DumpTypeRtcp, now)

	if s.rtcpDest == nil && from != nil && s.rtcpConn != nil {
		Log.Infof("[%s] learn rtcp destination. addr=%s", s.uniqueKey, from.String())
		s.rtcpDest = from
	}

	if _, err := s.rtcp.HandleIncoming(b, now); err != nil {
		s.option.Metrics.onRtcpRejected(s.name)
		Log.Warnf("[%s] invalid rtcp packet. len=%d, err=%+v", s.uniqueKey, len(b), err)
		return err
	}
	if s.onRawRtcp != nil {
		s.onRawRtcp(b)
	}

	// 距离上次发送超过一定时长，强制发送一次
	if now.Sub(s.rtcp.LastSendTime()) > s.forceSendDuration() {
		s.updateReceptionMetrics()
		if err := s.rtcp.SendReport(now); err != nil {
			Log.Warnf("[%s] force send rtcp report failed. err=%+v", s.uniqueKey, err)
		}
	}
	return nil
}

func (s *MediaSource) onUnpackedFrame(frame base.Frame) {
	s.option.Metrics.onFrame(s.name, frame.Type.ReadableString(), frame.Truncated)
	if s.onFrame != nil {
		s.onFrame(frame)
	}
}

// sendRtcp 由RtcpInstance回调，此时已持有锁
func (s *MediaSource) sendRtcp(b []byte) error {
	var err error
	switch {
	case s.rtcpConn != nil && s.rtcpDest != nil:
		err = s.rtcpConn.Write2Addr(b, s.rtcpDest)
	case s.option.InterleavedWriter != nil:
		err = s.option.InterleavedWriter.WriteInterleavedPacket(b, RtpChannel2Rtcp(s.option.RtpChannel))
	default:
		return base.ErrRtspNoDestination
	}
	if err == nil {
		s.option.Metrics.onRtcpSent(s.name)
	}
	return err
}

func (s *MediaSource) dump(b []byte, typ uint32, now time.Time) {
	if s.dumpFile == nil {
		return
	}
	if err := s.dumpFile.WriteWithType(b, typ, now); err != nil {
		Log.Warnf("[%s] write dump file failed, stop dumping. err=%+v", s.uniqueKey, err)
		_ = s.dumpFile.Close()
		s.dumpFile = nil
	}
}

func (s *MediaSource) hasRtcpDestination() bool {
	return (s.rtcpConn != nil && s.rtcpDest != nil) || s.option.InterleavedWriter != nil
}

func (s *MediaSource) forceSendDuration() time.Duration {
	d := time.Duration(base.RtcpForceSendDurationMs) * time.Millisecond
	if s.option.RtcpForceSendIntervalMs > 0 {
		d = time.Duration(s.option.RtcpForceSendIntervalMs) * time.Millisecond
	}
	if minInterval := time.Duration(s.option.Rtcp.MinIntervalMs) * time.Millisecond; minInterval > d {
		d = minInterval
	}
	return d
}

func (s *MediaSource) clockRate() uint32 {
	if s.option.Unpacker.ClockRate == 0 {
		return base.DefaultVideoClockRate
	}
	return s.option.Unpacker.ClockRate
}

func (s *MediaSource) updateReceptionMetrics() {
	if s.option.Metrics == nil {
		return
	}
	for _, st := range s.statsDb.All() {
		s.option.Metrics.setReception(s.name, st.Ssrc(), st.Jitter(), st.TotNumPacketsLost(), st.LossFraction())
		s.option.Metrics.setLastSr(s.name, st.Ssrc(), st.LastReceivedSrSenderTime())
	}
}

func (s *MediaSource) runLoop(conn *nazanet.UdpConnection, onRead func(b []byte, raddr *net.UDPAddr, err error) bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = conn.RunLoop(onRead)
	}()
}

func (s *MediaSource) runTicker(interval time.Duration, stop chan struct{}) {
	defer s.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.OnTimer(s.now())
		}
	}
}

// callback by UdpConnection
func (s *MediaSource) onReadRtpPacket(b []byte, rAddr *net.UDPAddr, err error) bool {
	if err != nil {
		return s.onReadError(err)
	}
	_ = s.OnRtpDatagram(b, rAddr)
	return true
}

// callback by UdpConnection
func (s *MediaSource) onReadRtcpPacket(b []byte, rAddr *net.UDPAddr, err error) bool {
	if err != nil {
		return s.onReadError(err)
	}
	_ = s.OnRtcpDatagram(b, rAddr)
	return true
}

// onReadError socket出错，不做重试，直接停止这个source
func (s *MediaSource) onReadError(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fsm.Is(StateReading) {
		// StopReading关闭socket导致的错误
		return false
	}
	Log.Errorf("[%s] read udp packet failed. err=%+v", s.uniqueKey, err)
	_ = s.fsm.Event(context.Background(), eventError)
	_ = s.teardown(err)
	return false
}

// teardown 调用时需持有锁
func (s *MediaSource) teardown(cause error) error {
	var retErr error
	s.disposeOnce.Do(func() {
		Log.Infof("[%s] lifecycle dispose media source. cause=%v", s.uniqueKey, cause)
		var e1, e2 error
		if s.rtpConn != nil {
			e1 = s.rtpConn.Dispose()
		}
		if s.rtcpConn != nil {
			e2 = s.rtcpConn.Dispose()
		}
		if s.tickerStop != nil {
			close(s.tickerStop)
		}
		if s.dumpFile != nil {
			_ = s.dumpFile.Close()
		}
		s.queue.Reset()
		s.unpacker.Reset()
		s.option.Metrics.deleteSource(s.name)

		s.waitChan <- cause
		retErr = nazaerrors.CombineErrors(e1, e2)
	})
	return retErr
}
