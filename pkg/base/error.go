// Copyright 2021, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import (
	"errors"
	"fmt"
)

// ----- 通用的 ---------------------------------------------------------------------------------------------------------

var (
	ErrShortBuffer = errors.New("lalrtp: buffer too short")
	ErrDumpFile    = errors.New("lalrtp: invalid dump file")
)

// ----- pkg/aac -------------------------------------------------------------------------------------------------------

var ErrSamplingFrequencyIndex = errors.New("lalrtp.aac: invalid sampling frequency index")

var ErrAac = errors.New("lalrtp.aac: invalid aac data")

// ----- pkg/rtprtcp ---------------------------------------------------------------------------------------------------

var (
	ErrRtpRtcpShortBuffer = errors.New("lalrtp.rtprtcp: buffer too short")

	ErrRtpPacketSize = errors.New("lalrtp.rtprtcp: invalid rtp packet size")
	ErrRtpCsrc       = errors.New("lalrtp.rtprtcp: invalid rtp header, csrc count error")
	ErrRtpExtension  = errors.New("lalrtp.rtprtcp: invalid rtp header, extension size error")
	ErrRtpPadding    = errors.New("lalrtp.rtprtcp: invalid rtp header, padding length error")
	ErrRtcpHeader    = errors.New("lalrtp.rtprtcp: rejected bad rtcp packet header")
	ErrRtcpSubPacket = errors.New("lalrtp.rtprtcp: rejected bad rtcp subpacket")
	ErrUnknownCodec  = errors.New("lalrtp.rtprtcp: unsupported codec name")
	ErrMissingFmtp   = errors.New("lalrtp.rtprtcp: missing mandatory fmtp parameter")
)

func NewErrRtpRtcpShortBuffer(need, actual int, msg string) error {
	return fmt.Errorf("%w. need=%d, actual=%d, msg=%s", ErrRtpRtcpShortBuffer, need, actual, msg)
}

func NewErrRtpPacketSize(size int) error {
	return fmt.Errorf("%w. size=%d", ErrRtpPacketSize, size)
}

func NewErrRtcpHeader(word uint32) error {
	return fmt.Errorf("%w. header=0x%08x", ErrRtcpHeader, word)
}

func NewErrRtcpSubPacket(word uint32, msg string) error {
	return fmt.Errorf("%w. header=0x%08x, msg=%s", ErrRtcpSubPacket, word, msg)
}

func NewErrUnknownCodec(name string) error {
	return fmt.Errorf("%w. codec=%s", ErrUnknownCodec, name)
}

func NewErrMissingFmtp(codec string, key string) error {
	return fmt.Errorf("%w. codec=%s, key=%s", ErrMissingFmtp, codec, key)
}

// ----- pkg/rtsp ------------------------------------------------------------------------------------------------------

var (
	ErrRtsp                    = errors.New("lalrtp.rtsp: fxxk")
	ErrRtspInterleavedTooLarge = errors.New("lalrtp.rtsp: interleaved packet too large")
	ErrRtspSourceState         = errors.New("lalrtp.rtsp: invalid media source state")
	ErrRtspPortExhausted       = errors.New("lalrtp.rtsp: udp port range exhausted")
	ErrRtspStreamNotFound      = errors.New("lalrtp.rtsp: relay stream not found")
	ErrRtspDupPublisher        = errors.New("lalrtp.rtsp: relay stream already has a publisher")
	ErrRtspHubClosed           = errors.New("lalrtp.rtsp: relay hub already shut down")
	ErrRtspNoDestination       = errors.New("lalrtp.rtsp: no rtcp destination")
)

func NewErrRtspSourceState(current string, op string) error {
	return fmt.Errorf("%w. current=%s, op=%s", ErrRtspSourceState, current, op)
}

// ----- pkg/sdp -------------------------------------------------------------------------------------------------------

var (
	ErrSdp          = errors.New("lalrtp.sdp: fxxk")
	ErrSdpFmtp      = errors.New("lalrtp.sdp: invalid fmtp")
	ErrSdpNoRtpMap  = errors.New("lalrtp.sdp: rtpmap not found")
	ErrSdpParamMiss = errors.New("lalrtp.sdp: fmtp parameter not found")
)

func NewErrSdpParamMiss(key string) error {
	return fmt.Errorf("%w. key=%s", ErrSdpParamMiss, key)
}

// ----- pkg/mpegts ----------------------------------------------------------------------------------------------------

var ErrMpegts = errors.New("lalrtp.mpegts: fxxk")

// ----- pkg/logic -----------------------------------------------------------------------------------------------------

var (
	ErrConfigSourceName = errors.New("lalrtp.logic: source name empty or duplicated")
	ErrConfigSdpFile    = errors.New("lalrtp.logic: source sdp file invalid")
)

// ---------------------------------------------------------------------------------------------------------------------
