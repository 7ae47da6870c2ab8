// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic_test

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/asticode/go-astits"
	"github.com/pion/rtp"
	"github.com/q191201771/lalrtp/pkg/logic"
	"github.com/q191201771/lalrtp/pkg/rtsp"
	"github.com/stretchr/testify/require"
)

const testSdp = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=test\r\n" +
	"c=IN IP4 127.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=video 0 RTP/AVP 96\r\n" +
	"a=rtpmap:96 H264/90000\r\n" +
	"a=fmtp:96 packetization-mode=1;sprop-parameter-sets=Z0LAHg==,aM48gA==\r\n" +
	"a=control:trackID=0\r\n" +
	"m=audio 0 RTP/AVP 97\r\n" +
	"a=rtpmap:97 MPEG4-GENERIC/44100/2\r\n" +
	"a=fmtp:97 streamtype=5;profile-level-id=15;mode=AAC-hbr;config=1210;sizelength=13;indexlength=3;indexdeltalength=3\r\n" +
	"a=control:trackID=1\r\n"

var (
	testSps = []byte{0x67, 0x42, 0xC0, 0x1E}
	testPps = []byte{0x68, 0xCE, 0x3C, 0x80}
	testIdr = []byte{0x65, 0x88, 0x84, 0x00}
	testP   = []byte{0x41, 0x9A, 0x02}
)

func annexb(nals ...[]byte) []byte {
	var out []byte
	for _, nal := range nals {
		out = append(out, 0, 0, 0, 1)
		out = append(out, nal...)
	}
	return out
}

func marshalRtp(t *testing.T, pt uint8, seq uint16, ts uint32, mark bool, payload []byte) []byte {
	b, err := (&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         mark,
			PayloadType:    pt,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           0x5678,
		},
		Payload: payload,
	}).Marshal()
	require.NoError(t, err)
	return b
}

func TestServerManager(t *testing.T) {
	dir := t.TempDir()
	sdpFile := filepath.Join(dir, "cam.sdp")
	require.NoError(t, os.WriteFile(sdpFile, []byte(testSdp), 0666))
	recordPath := filepath.Join(dir, "record")

	config, err := logic.ParseConf([]byte(fmt.Sprintf(`{
  "udp": {"port_min": 34000, "port_max": 34200},
  "relay": {"enable": true, "addr": "127.0.0.1:0"},
  "record": {"enable": true, "out_path": %q},
  "metrics": {"enable": true, "addr": "127.0.0.1:0"},
  "sources": [{"name": "cam", "sdp_file": %q}]
}`, recordPath, sdpFile)))
	require.NoError(t, err)

	sm := logic.NewServerManager(config)
	require.NoError(t, sm.Start())

	group := sm.GetGroup("cam")
	require.NotNil(t, group)
	ports := group.RtpPorts()
	require.Len(t, ports, 2)
	require.Len(t, group.MediaSources(), 2)
	for _, port := range ports {
		require.Equal(t, uint16(0), port%2)
	}

	// relay订阅者
	relayConn, err := net.Dial("tcp", sm.RelayAddr().String())
	require.NoError(t, err)
	defer relayConn.Close()
	_, err = relayConn.Write([]byte("cam\r\n"))
	require.NoError(t, err)
	_ = relayConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	relayReader := bufio.NewReader(relayConn)
	line, err := relayReader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "OK\r\n", line)

	stream, err := sm.GetRelayStream("cam")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return stream.SubscriberCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	sender, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sender.Close()
	videoAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(ports[0])}
	audioAddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(ports[1])}

	_, err = sender.WriteToUDP(marshalRtp(t, 96, 0, 0, true, testIdr), videoAddr)
	require.NoError(t, err)
	_, err = sender.WriteToUDP(marshalRtp(t, 96, 1, 3600, true, testP), videoAddr)
	require.NoError(t, err)
	video := group.MediaSources()[0]
	require.Eventually(t, func() bool { return video.UnpackerStat().Frames == 2 }, 5*time.Second, 10*time.Millisecond)

	// 视频关键帧之后再发送音频，保证音频帧被录制
	auPayload := []byte{0x00, 0x10, 0x00, 0x18, 1, 2, 3}
	_, err = sender.WriteToUDP(marshalRtp(t, 97, 0, 0, true, auPayload), audioAddr)
	require.NoError(t, err)
	audio := group.MediaSources()[1]
	require.Eventually(t, func() bool { return audio.UnpackerStat().Frames == 1 }, 5*time.Second, 10*time.Millisecond)

	// relay收到的是原始的rtp包
	for i := 0; i < 3; i++ {
		isInterleaved, packet, channel, err := rtsp.ReadInterleaved(relayReader)
		require.NoError(t, err)
		require.True(t, isInterleaved)
		var pkt rtp.Packet
		require.NoError(t, pkt.Unmarshal(packet))
		if i < 2 {
			require.Equal(t, uint8(0), channel)
			require.Equal(t, uint16(i), pkt.SequenceNumber)
		} else {
			require.Equal(t, uint8(2), channel)
			require.Equal(t, uint8(97), pkt.PayloadType)
		}
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", sm.MetricsAddr().String()))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.True(t, bytes.Contains(body, []byte(`lalrtp_rtp_packets_received_total{source="cam/0"} 2`)), string(body))
	require.True(t, bytes.Contains(body, []byte(`lalrtp_relay_subscribers{stream="cam"} 1`)), string(body))

	recordFilename := group.RecordFilename()
	require.NotEmpty(t, recordFilename)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sm.Shutdown(ctx))
	require.Nil(t, sm.GetGroup("cam"))

	// 录制文件
	fp, err := os.Open(recordFilename)
	require.NoError(t, err)
	defer fp.Close()
	pesData := make(map[uint16][][]byte)
	dmx := astits.NewDemuxer(context.Background(), bufio.NewReader(fp))
	for {
		d, err := dmx.NextData()
		if err != nil {
			require.ErrorIs(t, err, astits.ErrNoMorePackets)
			break
		}
		if d.PES != nil {
			pid := d.FirstPacket.Header.PID
			pesData[pid] = append(pesData[pid], d.PES.Data)
		}
	}
	require.Len(t, pesData[0x100], 2)
	require.Equal(t, annexb(testSps, testPps, testIdr), pesData[0x100][0])
	require.Equal(t, annexb(testP), pesData[0x100][1])
	require.Len(t, pesData[0x101], 1)
	require.Equal(t, []byte{1, 2, 3}, pesData[0x101][0][7:])
}

func TestServerManagerBadSdp(t *testing.T) {
	dir := t.TempDir()
	config, err := logic.ParseConf([]byte(fmt.Sprintf(`{
  "udp": {"port_min": 34300, "port_max": 34400},
  "sources": [{"name": "cam", "sdp_file": %q}]
}`, filepath.Join(dir, "not_exist.sdp"))))
	require.NoError(t, err)

	sm := logic.NewServerManager(config)
	require.Error(t, sm.Start())
	require.Nil(t, sm.GetGroup("cam"))
	require.Nil(t, sm.RelayAddr())
	require.Nil(t, sm.MetricsAddr())
	require.NoError(t, sm.Shutdown(context.Background()))
}
