// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/lalrtp/pkg/mpegts"
	"github.com/q191201771/lalrtp/pkg/rtprtcp"
	"github.com/q191201771/lalrtp/pkg/rtsp"
	"github.com/q191201771/lalrtp/pkg/sdp"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

// Group 一个配置的源，对应sdp中的所有media
//
// 每个media一个 rtsp.MediaSource，合成的帧写入录制文件，原始的rtp、rtcp包转发给relay
type Group struct {
	UniqueKey string

	config       SourceConfig
	rtpConfig    RtpConfig
	recordConfig RecordConfig

	mediaConfigs []sdp.MediaConfig
	sources      []*rtsp.MediaSource
	rtpPorts     []uint16

	recorder    *mpegts.TsRecorder
	trackIndexs []int // 每个media在recorder中的track序号，-1表示不录制

	relayStream *rtsp.RelayStream

	disposeOnce sync.Once
}

type groupDeps struct {
	allocator rtsp.IPortAllocator
	hub       *rtsp.RelayHub
	metrics   *rtsp.Metrics
}

func NewGroup(config SourceConfig, rtpConfig RtpConfig, recordConfig RecordConfig) *Group {
	return &Group{
		UniqueKey:    "GROUP_" + config.Name,
		config:       config,
		rtpConfig:    rtpConfig,
		recordConfig: recordConfig,
	}
}

func (group *Group) Name() string {
	return group.config.Name
}

// RtpPorts 每个media实际使用的本地rtp端口
func (group *Group) RtpPorts() []uint16 {
	return group.rtpPorts
}

func (group *Group) MediaSources() []*rtsp.MediaSource {
	return group.sources
}

func (group *Group) RecordFilename() string {
	if group.recorder == nil {
		return ""
	}
	return group.recorder.Filename()
}

// Open 解析sdp，创建所有的MediaSource并开始接收
//
// 失败时已经创建的资源会被释放
func (group *Group) Open(deps groupDeps) (err error) {
	defer func() {
		if err != nil {
			_ = group.Dispose()
		}
	}()

	rawSdp, err := os.ReadFile(group.config.SdpFile)
	if err != nil {
		return fmt.Errorf("%w. name=%s, err=%s", base.ErrConfigSdpFile, group.config.Name, err.Error())
	}
	if group.mediaConfigs, err = sdp.ParseSdp2MediaConfigs(rawSdp); err != nil {
		return err
	}
	Log.Infof("[%s] parse sdp succ. medias=%d", group.UniqueKey, len(group.mediaConfigs))

	if group.recordConfig.Enable {
		if err = group.openRecorder(); err != nil {
			return err
		}
	}

	if deps.hub != nil {
		if group.relayStream, err = deps.hub.Acquire(group.config.Name); err != nil {
			return err
		}
		if err = group.relayStream.Publish(); err != nil {
			group.relayStream.Release()
			group.relayStream = nil
			return err
		}
	}

	for i := range group.mediaConfigs {
		if err = group.openMediaSource(i, deps); err != nil {
			return err
		}
	}

	for i, s := range group.sources {
		index := i
		err = s.StartReading(
			func(frame base.Frame) { group.onFrame(index, frame) },
			func(b []byte) { group.onRawRtp(index, b) },
			func(b []byte) { group.onRawRtcp(index, b) },
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (group *Group) openRecorder() error {
	group.recorder = mpegts.NewTsRecorder(mpegts.TsRecorderOption{
		OutPath:      group.recordConfig.OutPath,
		StreamName:   group.config.Name,
		WaitKeyFrame: group.recordConfig.WaitKeyFrame,
	})
	hasTrack := false
	for _, mc := range group.mediaConfigs {
		index, err := group.recorder.AddTrack(mc.EncodingName, mc.Asc)
		if err != nil {
			Log.Warnf("[%s] codec not recordable, skip. codec=%s, err=%+v", group.UniqueKey, mc.EncodingName, err)
			index = -1
		} else {
			hasTrack = true
		}
		group.trackIndexs = append(group.trackIndexs, index)
	}
	if !hasTrack {
		Log.Warnf("[%s] no recordable track, record disabled.", group.UniqueKey)
		group.recorder = nil
		return nil
	}
	return group.recorder.Open()
}

func (group *Group) openMediaSource(index int, deps groupDeps) error {
	mc := group.mediaConfigs[index]

	var port uint16
	if index < len(group.config.RtpPorts) {
		port = group.config.RtpPorts[index]
	}
	rtpConn, rtcpConn, port, err := acquireConnPair(deps.allocator, port)
	if err != nil {
		return err
	}

	unpackerOption := mc.UnpackerOption()
	unpackerOption.MaxPendingParamSets = group.rtpConfig.MaxPendingParamSets

	s, err := rtsp.NewMediaSource(func(option *rtsp.MediaSourceOption) {
		option.Name = fmt.Sprintf("%s/%d", group.config.Name, index)
		option.PayloadType = mc.PayloadType
		option.Unpacker = unpackerOption
		option.ReorderThresholdUs = group.rtpConfig.ReorderThresholdUs
		option.Rtcp = rtprtcp.RtcpOption{
			SessionBwKbps: group.rtpConfig.SessionBwKbps,
			MinIntervalMs: group.rtpConfig.RtcpMinIntervalMs,
			Cname:         group.rtpConfig.Cname,
		}
		option.RtpConn = rtpConn
		option.RtcpConn = rtcpConn
		option.RtcpTickIntervalMs = group.rtpConfig.RtcpTickIntervalMs
		option.RtcpForceSendIntervalMs = group.rtpConfig.RtcpForceSendIntervalMs
		option.MaxPacketSize = group.rtpConfig.MaxPacketSize
		option.Metrics = deps.metrics
		if group.rtpConfig.DumpPath != "" {
			option.DumpFilename = filepath.Join(group.rtpConfig.DumpPath, fmt.Sprintf("%s_%d.laldump", group.config.Name, index))
		}
	})
	if err != nil {
		_ = rtpConn.Close()
		_ = rtcpConn.Close()
		return err
	}

	Log.Infof("[%s] open media source. index=%d, media=%s, codec=%s, rtp port=%d, source=%s",
		group.UniqueKey, index, mc.Media, mc.EncodingName, port, s.UniqueKey())
	group.sources = append(group.sources, s)
	group.rtpPorts = append(group.rtpPorts, port)
	return nil
}

// acquireConnPair 指定了端口时直接监听，否则从端口范围中分配
func acquireConnPair(allocator rtsp.IPortAllocator, rtpPort uint16) (rtpConn, rtcpConn *net.UDPConn, port uint16, err error) {
	if rtpPort == 0 {
		return allocator.AcquirePair()
	}
	if rtpConn, err = net.ListenUDP("udp", &net.UDPAddr{Port: int(rtpPort)}); err != nil {
		return nil, nil, 0, err
	}
	if rtcpConn, err = net.ListenUDP("udp", &net.UDPAddr{Port: int(rtpPort) + 1}); err != nil {
		_ = rtpConn.Close()
		return nil, nil, 0, err
	}
	return rtpConn, rtcpConn, rtpPort, nil
}

// Dispose 停止所有MediaSource，关闭录制文件，释放relay的流
func (group *Group) Dispose() error {
	var errs []error
	group.disposeOnce.Do(func() {
		Log.Infof("[%s] lifecycle dispose group.", group.UniqueKey)
		for _, s := range group.sources {
			errs = append(errs, s.StopReading())
		}
		if group.recorder != nil {
			errs = append(errs, group.recorder.Dispose())
		}
		if group.relayStream != nil {
			group.relayStream.Unpublish()
			group.relayStream.Release()
		}
	})
	return nazaerrors.CombineErrors(errs...)
}

// LogStat 打印所有media的接收统计
func (group *Group) LogStat() {
	for i, s := range group.sources {
		us := s.UnpackerStat()
		Log.Infof("[%s] media=%d, state=%s, frames=%d, truncated=%d, malformed=%d",
			group.UniqueKey, i, s.State(), us.Frames, us.TruncatedFrames, us.MalformedPackets)
		for _, st := range s.ReceptionStats() {
			Log.Infof("[%s] media=%d, ssrc=%d, jitter=%d, lost=%d",
				group.UniqueKey, i, st.Ssrc(), st.Jitter(), st.TotNumPacketsLost())
		}
	}
}

func (group *Group) onFrame(index int, frame base.Frame) {
	if group.recorder == nil || group.trackIndexs[index] < 0 {
		return
	}
	if err := group.recorder.FeedFrame(group.trackIndexs[index], frame); err != nil {
		Log.Warnf("[%s] record frame failed. media=%d, err=%+v", group.UniqueKey, index, err)
	}
}

func (group *Group) onRawRtp(index int, b []byte) {
	if group.relayStream != nil {
		group.relayStream.FeedRtp(index, b)
	}
}

func (group *Group) onRawRtcp(index int, b []byte) {
	if group.relayStream != nil {
		group.relayStream.FeedRtcp(index, b)
	}
}
