// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mpegts

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/asticode/go-astits"
	"github.com/q191201771/lalrtp/pkg/aac"
	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/lalrtp/pkg/h2645"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

type TsRecorderOption struct {
	OutPath    string
	StreamName string

	// WaitKeyFrame 存在视频轨道时，丢弃第一个视频关键帧之前的所有帧
	WaitKeyFrame bool
}

// TsRecorder 把一路源的多个轨道的帧写入同一个ts文件
//
// 使用流程：AddTrack -> Open -> FeedFrame... -> Dispose
type TsRecorder struct {
	UniqueKey string

	option TsRecorderOption

	mu     sync.Mutex
	fw     FileWriter
	muxer  *astits.Muxer
	tracks []*tsTrack
	opened bool

	pcrTrack     int
	gotKeyFrame  bool
	filename     string
	frameCount   uint64
	droppedCount uint64

	buf []byte
}

type tsTrack struct {
	codecName  string
	pid        uint16
	streamType astits.StreamType
	streamId   uint8
	ascCtx     *aac.AscContext
}

func (t *tsTrack) isVideo() bool {
	return t.streamId == StreamIdVideo
}

func NewTsRecorder(option TsRecorderOption) *TsRecorder {
	return &TsRecorder{
		UniqueKey: base.GenUkTsRecorder(),
		option:    option,
		pcrTrack:  -1,
	}
}

// AddTrack 需要在Open之前调用
//
// @param asc: MPEG4-GENERIC时必须提供，用于生成adts头
//
// @return 轨道序号，FeedFrame时使用
func (r *TsRecorder) AddTrack(codecName string, asc []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opened {
		return -1, fmt.Errorf("%w. add track after open", base.ErrMpegts)
	}

	t := &tsTrack{
		codecName: strings.ToUpper(codecName),
		pid:       PidFirstTrack + uint16(len(r.tracks)),
	}
	switch t.codecName {
	case base.CodecNameH264:
		t.streamType, t.streamId = astits.StreamTypeH264Video, StreamIdVideo
	case base.CodecNameH265:
		t.streamType, t.streamId = astits.StreamTypeH265Video, StreamIdVideo
	case base.CodecNameMpeg4Es:
		t.streamType, t.streamId = astits.StreamTypeMPEG4Video, StreamIdVideo
	case base.CodecNameMpeg4Generic:
		ascCtx, err := aac.NewAscContext(asc)
		if err != nil {
			return -1, err
		}
		t.streamType, t.streamId, t.ascCtx = astits.StreamTypeAACAudio, StreamIdAudio, ascCtx
	case base.CodecNameAc3:
		t.streamType, t.streamId = astits.StreamTypeAC3Audio, StreamIdPrivateStream1
	default:
		return -1, fmt.Errorf("%w. codec not supported by ts, codec=%s", base.ErrMpegts, codecName)
	}

	r.tracks = append(r.tracks, t)
	if r.pcrTrack == -1 || (t.isVideo() && !r.tracks[r.pcrTrack].isVideo()) {
		r.pcrTrack = len(r.tracks) - 1
	}
	return len(r.tracks) - 1, nil
}

func (r *TsRecorder) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opened {
		return nil
	}
	if len(r.tracks) == 0 {
		return fmt.Errorf("%w. no track", base.ErrMpegts)
	}

	if err := r.fw.CreateExclusive(r.option.OutPath, r.option.StreamName); err != nil {
		Log.Errorf("[%s] open file failed. err=%+v", r.UniqueKey, err)
		return err
	}
	r.filename = r.fw.Name()

	r.muxer = astits.NewMuxer(context.Background(), &r.fw)
	for _, t := range r.tracks {
		if err := r.muxer.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: t.pid,
			StreamType:    t.streamType,
		}); err != nil {
			_ = r.fw.Dispose()
			return err
		}
	}
	r.muxer.SetPCRPID(r.tracks[r.pcrTrack].pid)
	r.gotKeyFrame = !r.option.WaitKeyFrame || !r.tracks[r.pcrTrack].isVideo()
	r.opened = true

	Log.Infof("[%s] open file to write. filename=%s, tracks=%d", r.UniqueKey, r.filename, len(r.tracks))
	return nil
}

func (r *TsRecorder) FeedFrame(trackIndex int, frame base.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opened {
		return fmt.Errorf("%w. recorder not opened", base.ErrMpegts)
	}
	if trackIndex < 0 || trackIndex >= len(r.tracks) {
		return fmt.Errorf("%w. invalid track index=%d", base.ErrMpegts, trackIndex)
	}
	t := r.tracks[trackIndex]

	key := t.isVideo() && isKeyFrame(t.codecName, frame.Payload)
	if !r.gotKeyFrame {
		if !(key && trackIndex == r.pcrTrack) {
			r.droppedCount++
			return nil
		}
		r.gotKeyFrame = true
	}

	payload := frame.Payload
	if t.ascCtx != nil {
		var err error
		if r.buf, err = t.ascCtx.AppendAdtsFrame(r.buf[:0], frame.Payload); err != nil {
			return err
		}
		payload = r.buf
	}

	pts := TimestampUs2Pts(frame.TimestampUs)
	d := &astits.MuxerData{
		PID: t.pid,
		PES: &astits.PESData{
			Header: &astits.PESHeader{
				StreamID: t.streamId,
				OptionalHeader: &astits.PESOptionalHeader{
					MarkerBits:             2,
					DataAlignmentIndicator: t.isVideo(),
					PTSDTSIndicator:        astits.PTSDTSIndicatorOnlyPTS,
					PTS:                    &astits.ClockReference{Base: pts},
				},
			},
			Data: payload,
		},
	}
	if trackIndex == r.pcrTrack {
		d.AdaptationField = &astits.PacketAdaptationField{
			RandomAccessIndicator: key,
			HasPCR:                true,
			PCR:                   &astits.ClockReference{Base: pts},
		}
	}
	if _, err := r.muxer.WriteData(d); err != nil {
		Log.Errorf("[%s] write ts data failed. err=%+v", r.UniqueKey, err)
		return err
	}
	r.frameCount++
	return nil
}

func (r *TsRecorder) Filename() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filename
}

func (r *TsRecorder) Dispose() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.opened {
		return nil
	}
	r.opened = false
	Log.Infof("[%s] lifecycle dispose ts recorder. filename=%s, frames=%d, dropped=%d",
		r.UniqueKey, r.filename, r.frameCount, r.droppedCount)
	if err := r.fw.Dispose(); err != nil {
		return nazaerrors.Wrap(err)
	}
	return nil
}

func isKeyFrame(codecName string, payload []byte) bool {
	var isH264 bool
	switch codecName {
	case base.CodecNameH264:
		isH264 = true
	case base.CodecNameH265:
		isH264 = false
	default:
		return true
	}
	key := false
	h2645.IterateNaluStartCode(payload, func(nal []byte) {
		if !key && h2645.IsKeyNalu(isH264, h2645.ParseNaluType(isH264, nal[0])) {
			key = true
		}
	})
	return key
}
