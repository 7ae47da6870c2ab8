// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtprtcp

import (
	"time"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

const (
	rtcpMaxPacketSize       = 1450
	rtcpPreferredPacketSize = 1000

	// 每发送这么多次report，清理一次长时间没有出现的成员
	membershipReapPeriod = 5

	defaultSessionBwKbps = 25
)

type RtcpOption struct {
	// SessionBwKbps 会话总带宽，rtcp使用其中的5%
	SessionBwKbps int

	// MinIntervalMs 两次发送report之间的最小间隔
	MinIntervalMs int

	// Cname 为空时使用 base.DefaultCname
	Cname string

	// RandFloat 返回[0, 1)的随机数，为nil时使用math/rand
	RandFloat func() float64
}

var defaultRtcpOption = RtcpOption{
	SessionBwKbps: defaultSessionBwKbps,
	MinIntervalMs: base.RtcpForceSendDurationMs,
}

type ModRtcpOption func(option *RtcpOption)

// OnRtcpSend 发送组装好的rtcp包，回调结束后<b>的内存会被复用
type OnRtcpSend func(b []byte) error

// RtcpReceivedType 收到的rtcp包中，最后一个可识别子包的类型
type RtcpReceivedType uint8

const (
	RtcpReceivedTypeUnknown RtcpReceivedType = iota
	RtcpReceivedTypeReport
	RtcpReceivedTypeBye
)

// RtcpInstance 一个rtp源对应的rtcp处理
//
// 解析收到的rtcp，根据接收统计生成rr+sdes，按rfc3550的算法决定发送时机
// 非协程安全
type RtcpInstance struct {
	uniqueKey string
	ssrc      uint32
	statsDb   *ReceptionStatsDb
	onSend    OnRtcpSend
	option    RtcpOption

	outBuf    *OutPacketBuffer
	cname     []byte
	members   *rtcpMemberDb
	scheduler *RtcpScheduler

	outgoingReportCount uint32
	lastSentSize        int
	lastReceivedSize    int
	lastReceivedSsrc    uint32
	lastSendTime        time.Time
}

// NewRtcpInstance
//
// @param ssrc: 我们自己的ssrc，写入rr和sdes
// @param now:  初始化调度时间
func NewRtcpInstance(ssrc uint32, statsDb *ReceptionStatsDb, onSend OnRtcpSend, now time.Time, modOptions ...ModRtcpOption) *RtcpInstance {
	option := defaultRtcpOption
	for _, fn := range modOptions {
		fn(&option)
	}
	if option.Cname == "" {
		option.Cname = base.DefaultCname()
	}

	r := &RtcpInstance{
		uniqueKey:           base.GenUkRtcpInstance(),
		ssrc:                ssrc,
		statsDb:             statsDb,
		onSend:              onSend,
		option:              option,
		outBuf:              NewOutPacketBuffer(rtcpPreferredPacketSize, rtcpMaxPacketSize, rtcpMaxPacketSize),
		cname:               []byte(option.Cname),
		members:             newRtcpMemberDb(),
		outgoingReportCount: 1,
	}
	r.scheduler = NewRtcpScheduler(option.SessionBwKbps, time.Duration(option.MinIntervalMs)*time.Millisecond, option.RandFloat, now, r.members.numMembers)
	Log.Infof("[%s] lifecycle new rtcp instance. ssrc=%d, cname=%s", r.uniqueKey, ssrc, option.Cname)
	return r
}

func (r *RtcpInstance) UniqueKey() string {
	return r.uniqueKey
}

func (r *RtcpInstance) NumMembers() int {
	return r.members.numMembers
}

func (r *RtcpInstance) OutgoingReportCount() uint32 {
	return r.outgoingReportCount
}

func (r *RtcpInstance) LastSendTime() time.Time {
	return r.lastSendTime
}

func (r *RtcpInstance) LastSentSize() int {
	return r.lastSentSize
}

func (r *RtcpInstance) NextReportTime() time.Time {
	return r.scheduler.NextReportTime()
}

// HandleIncoming 处理收到的rtcp包(可能是复合包)
//
// 第一个字的检查以sr为基准，掩码忽略了pt的最低位，所以rr开头的复合包也能通过
// 结构不合法时，丢弃剩余部分并返回错误，已经校验通过的子包的sr信息依然生效
func (r *RtcpInstance) HandleIncoming(b []byte, now time.Time) (RtcpReceivedType, error) {
	totPacketSize := IpUdpHeaderSize + len(b)

	if len(b) < RtcpHeaderLength {
		return RtcpReceivedTypeUnknown, base.NewErrRtpRtcpShortBuffer(RtcpHeaderLength, len(b), "rtcp")
	}
	hdr := bele.BeUint32(b)
	if hdr&0xE0FE0000 != 0x80000000|uint32(RtcpPacketTypeSr)<<16 {
		return RtcpReceivedTypeUnknown, base.NewErrRtcpHeader(hdr)
	}

	typ := RtcpReceivedTypeUnknown
	var reportSenderSsrc uint32
	pos := 0
	for {
		// 调用方已经保证剩余长度>=4
		h, _ := ParseRtcpHeader(b[pos:])
		subStart := pos
		length := 4 * int(h.Length)
		pos += RtcpHeaderLength
		remain := len(b) - pos

		if length > remain {
			return typ, base.NewErrRtcpSubPacket(hdr, "length exceed")
		}
		if length < 4 {
			return typ, base.NewErrRtcpSubPacket(hdr, "no ssrc")
		}
		reportSenderSsrc = bele.BeUint32(b[pos:])
		pos += 4
		length -= 4

		switch h.PacketType {
		case RtcpPacketTypeSr, RtcpPacketTypeRr:
			if h.PacketType == RtcpPacketTypeSr {
				if length < RtcpSrSenderInfoLength {
					return typ, base.NewErrRtcpSubPacket(hdr, "sr sender info")
				}
				sr, err := ParseSr(b[subStart:])
				if err != nil {
					return typ, err
				}
				if r.statsDb != nil {
					r.statsDb.NoteIncomingSr(sr.SenderSsrc, sr.Msw, sr.Lsw, sr.Timestamp, now)
				}
				pos += RtcpSrSenderInfoLength
				length -= RtcpSrSenderInfoLength
			}
			// report block的内容不关心，直接跳过
			blocksSize := int(h.CountOrFormat) * RtcpReportBlockLength
			if length < blocksSize {
				return typ, base.NewErrRtcpSubPacket(hdr, "report blocks")
			}
			pos += blocksSize
			length -= blocksSize
			typ = RtcpReceivedTypeReport
		case RtcpPacketTypeBye:
			// TODO(chef): bye中携带多个ssrc时，只处理了第一个
			typ = RtcpReceivedTypeBye
		default:
		}

		pos += length
		remain = len(b) - pos
		if remain == 0 {
			break
		}
		if remain < RtcpHeaderLength {
			return typ, base.NewErrRtcpSubPacket(hdr, "trailing bytes")
		}
		hdr = bele.BeUint32(b[pos:])
		if hdr>>30 != RtcpVersion {
			return typ, base.NewErrRtcpSubPacket(hdr, "version")
		}
	}

	r.onReceive(typ, totPacketSize, reportSenderSsrc, now)
	return typ, nil
}

func (r *RtcpInstance) onReceive(typ RtcpReceivedType, totPacketSize int, ssrc uint32, now time.Time) {
	r.lastReceivedSize = totPacketSize
	r.lastReceivedSsrc = ssrc

	switch typ {
	case RtcpReceivedTypeReport:
		if r.members.noteMembership(ssrc, r.outgoingReportCount) {
			Log.Debugf("[%s] new member. ssrc=%d, members=%d", r.uniqueKey, ssrc, r.members.numMembers)
		}
		r.scheduler.OnReceiveReport(totPacketSize)
	case RtcpReceivedTypeBye:
		// 成员离开，接收统计一并删除
		if r.members.remove(ssrc) {
			Log.Debugf("[%s] member bye. ssrc=%d, members=%d", r.uniqueKey, ssrc, r.members.numMembers)
		}
		if r.statsDb != nil {
			r.statsDb.Remove(ssrc)
		}
		r.scheduler.OnReceiveBye(totPacketSize, r.members.numMembers, now)
	}
}

// OnExpire 到了调度时间(或者外部认为需要检查)时调用，由调度算法决定是否真正发送
//
// @return 是否发送了report
func (r *RtcpInstance) OnExpire(now time.Time) (bool, error) {
	var err error
	sent := r.scheduler.OnExpire(r.members.numMembers, now, func() int {
		err = r.SendReport(now)
		return r.lastSentSize
	})
	return sent, err
}

// SendReport 立即发送rr+sdes
func (r *RtcpInstance) SendReport(now time.Time) error {
	r.addRr(now)
	packSdes(r.outBuf, r.ssrc, r.cname)
	err := r.sendBuiltPacket(now)

	r.outgoingReportCount++
	if r.outgoingReportCount%membershipReapPeriod == 0 {
		r.reapOldMembers(r.outgoingReportCount - membershipReapPeriod)
	}
	return err
}

// SendBye 发送rr+sdes+bye，源停止时调用
func (r *RtcpInstance) SendBye(now time.Time) error {
	r.addRr(now)
	packSdes(r.outBuf, r.ssrc, r.cname)
	packBye(r.outBuf, r.ssrc)
	return r.sendBuiltPacket(now)
}

func (r *RtcpInstance) addRr(now time.Time) {
	var stats []*ReceptionStats
	if r.statsDb != nil {
		stats = r.statsDb.ActiveStats()
	}
	status, numBlocks := packRr(r.outBuf, r.ssrc, stats, now)
	if status != base.BufferStatusOk {
		Log.Warnf("[%s] rr truncated. blocks=%d, packed=%d", r.uniqueKey, len(stats), numBlocks)
	} else if numBlocks < len(stats) {
		Log.Warnf("[%s] rr reached size limit, rest of report blocks dropped. blocks=%d, packed=%d", r.uniqueKey, len(stats), numBlocks)
	}
	if r.statsDb != nil {
		r.statsDb.Reset()
	}
}

func (r *RtcpInstance) sendBuiltPacket(now time.Time) error {
	size := r.outBuf.CurPacketSize()
	var err error
	if r.onSend != nil {
		err = r.onSend(r.outBuf.Packet())
	}
	r.outBuf.ResetOffset()
	r.lastSentSize = IpUdpHeaderSize + size
	r.lastSendTime = now
	if err != nil {
		return nazaerrors.Wrap(err)
	}
	return nil
}

func (r *RtcpInstance) reapOldMembers(threshold uint32) {
	for _, ssrc := range r.members.oldMembers(threshold) {
		Log.Debugf("[%s] reap member. ssrc=%d, threshold=%d", r.uniqueKey, ssrc, threshold)
		r.members.remove(ssrc)
		if r.statsDb != nil {
			r.statsDb.Remove(ssrc)
		}
	}
}
