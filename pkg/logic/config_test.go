// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/lalrtp/pkg/logic"
	"github.com/q191201771/naza/pkg/assert"
	"github.com/q191201771/naza/pkg/nazalog"
)

func TestParseConfDefault(t *testing.T) {
	config, err := logic.ParseConf([]byte(`{
  "conf_version": "v0.1.0",
  "rtp": {
    "cname": "lalrtp@test",
    "rtcp_min_interval_ms": 5000
  },
  "sources": [
    {"name": "cam1", "sdp_file": "./cam1.sdp", "rtp_ports": [40000, 0]}
  ],
  "log": {
    "level": 3
  }
}`))
	assert.Equal(t, nil, err)
	assert.Equal(t, "lalrtp@test", config.RtpConfig.Cname)
	assert.Equal(t, 5000, config.RtpConfig.RtcpMinIntervalMs)
	assert.Equal(t, int64(base.DefaultReorderThresholdUs), config.RtpConfig.ReorderThresholdUs)
	assert.Equal(t, 25, config.RtpConfig.SessionBwKbps)
	assert.Equal(t, base.RtcpForceSendDurationMs, config.RtpConfig.RtcpForceSendIntervalMs)
	assert.Equal(t, base.MaxRtpPacketSize, config.RtpConfig.MaxPacketSize)
	assert.Equal(t, uint16(30000), config.UdpConfig.PortMin)
	assert.Equal(t, uint16(60000), config.UdpConfig.PortMax)
	assert.Equal(t, false, config.RelayConfig.Enable)
	assert.Equal(t, ":8554", config.RelayConfig.Addr)
	assert.Equal(t, true, config.RecordConfig.WaitKeyFrame)
	assert.Equal(t, "/metrics", config.MetricsConfig.Path)
	assert.Equal(t, nazalog.Level(3), config.LogConfig.Level)
	assert.Equal(t, true, config.LogConfig.IsToStdout)
	assert.Equal(t, 1, len(config.SourceConfigs))
	assert.Equal(t, []uint16{40000, 0}, config.SourceConfigs[0].RtpPorts)
}

func TestParseConfInvalid(t *testing.T) {
	_, err := logic.ParseConf([]byte(`{"sources": [{"name": "", "sdp_file": "a.sdp"}]}`))
	assert.Equal(t, true, errors.Is(err, base.ErrConfigSourceName))

	_, err = logic.ParseConf([]byte(`{"sources": [{"name": "a", "sdp_file": "a.sdp"}, {"name": "a", "sdp_file": "b.sdp"}]}`))
	assert.Equal(t, true, errors.Is(err, base.ErrConfigSourceName))

	_, err = logic.ParseConf([]byte(`{"sources": [{"name": "a"}]}`))
	assert.Equal(t, true, errors.Is(err, base.ErrConfigSdpFile))

	_, err = logic.ParseConf([]byte(`{"sources": [{"name": "a", "sdp_file": "a.sdp", "rtp_ports": [40001]}]}`))
	assert.IsNotNil(t, err)

	_, err = logic.ParseConf([]byte(`{"udp": {"port_min": 50000, "port_max": 40000}}`))
	assert.IsNotNil(t, err)

	_, err = logic.ParseConf([]byte(`{`))
	assert.IsNotNil(t, err)
}

func TestLoadConf(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "lalrtp.conf.json")
	assert.Equal(t, nil, os.WriteFile(filename, []byte(`{"relay": {"enable": true, "addr": "127.0.0.1:0"}}`), 0666))
	config, err := logic.LoadConf(filename)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, config.RelayConfig.Enable)
	assert.Equal(t, "127.0.0.1:0", config.RelayConfig.Addr)

	_, err = logic.LoadConf(filename + ".not_exist")
	assert.IsNotNil(t, err)
}
