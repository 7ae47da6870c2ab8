// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/naza/pkg/nazajson"
	"github.com/q191201771/naza/pkg/nazalog"
)

const ConfVersion = "v0.1.0"

const (
	defaultUdpPortMin  = 30000
	defaultUdpPortMax  = 60000
	defaultMetricsAddr = ":8084"
	defaultMetricsPath = "/metrics"
	defaultRelayAddr   = ":8554"
	defaultRecordPath  = "./lalrtp_record/"
	defaultLogFilename = "./logs/lalrtp.log"
)

type Config struct {
	ConfVersion   string         `json:"conf_version"`
	RtpConfig     RtpConfig      `json:"rtp"`
	UdpConfig     UdpConfig      `json:"udp"`
	RelayConfig   RelayConfig    `json:"relay"`
	RecordConfig  RecordConfig   `json:"record"`
	MetricsConfig MetricsConfig  `json:"metrics"`
	SourceConfigs []SourceConfig `json:"sources"`

	LogConfig nazalog.Option `json:"log"`
}

type RtpConfig struct {
	ReorderThresholdUs      int64  `json:"reorder_threshold_us"`
	SessionBwKbps           int    `json:"session_bw_kbps"`
	RtcpMinIntervalMs       int    `json:"rtcp_min_interval_ms"`
	RtcpForceSendIntervalMs int    `json:"rtcp_force_send_interval_ms"`
	RtcpTickIntervalMs      int    `json:"rtcp_tick_interval_ms"`
	Cname                   string `json:"cname"`
	MaxPacketSize           int    `json:"max_packet_size"`
	MaxPendingParamSets     int    `json:"max_pending_param_sets"`

	// DumpPath 不为空时，每个media收到的原始包写入该目录下的dump文件
	DumpPath string `json:"dump_path"`
}

type UdpConfig struct {
	PortMin uint16 `json:"port_min"`
	PortMax uint16 `json:"port_max"`
}

type RelayConfig struct {
	Enable bool   `json:"enable"`
	Addr   string `json:"addr"`
}

type RecordConfig struct {
	Enable       bool   `json:"enable"`
	OutPath      string `json:"out_path"`
	WaitKeyFrame bool   `json:"wait_key_frame"`
}

type MetricsConfig struct {
	Enable bool   `json:"enable"`
	Addr   string `json:"addr"`
	Path   string `json:"path"`
}

type SourceConfig struct {
	Name    string `json:"name"`
	SdpFile string `json:"sdp_file"`

	// RtpPorts 按sdp中media的顺序指定本地rtp端口，rtcp端口为rtp端口加1
	// 没有指定或者为0的media，从udp端口范围中分配
	RtpPorts []uint16 `json:"rtp_ports"`
}

func LoadConfAndInitLog(confFile string) (*Config, error) {
	config, err := LoadConf(confFile)
	if err != nil {
		return nil, err
	}

	if err = nazalog.Init(func(option *nazalog.Option) {
		*option = config.LogConfig
	}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "initial log failed. err=%+v\n", err)
		return nil, err
	}
	Log.Info("initial log succ.")

	base.LogoutStartInfo()
	if config.ConfVersion != ConfVersion {
		Log.Warnf("config version invalid. conf version of lalrtp=%s, conf version of config file=%s",
			ConfVersion, config.ConfVersion)
	}
	Log.Infof("load conf file succ. filename=%s, raw content=%+v", confFile, config)
	return config, nil
}

// LoadConf 读取配置文件，没有配置的字段使用默认值
func LoadConf(confFile string) (*Config, error) {
	rawContent, err := os.ReadFile(confFile)
	if err != nil {
		return nil, err
	}
	return ParseConf(rawContent)
}

func ParseConf(rawContent []byte) (*Config, error) {
	var config Config
	if err := json.Unmarshal(rawContent, &config); err != nil {
		return nil, err
	}

	j, err := nazajson.New(rawContent)
	if err != nil {
		return nil, err
	}

	if !j.Exist("rtp.reorder_threshold_us") {
		config.RtpConfig.ReorderThresholdUs = base.DefaultReorderThresholdUs
	}
	if !j.Exist("rtp.session_bw_kbps") {
		config.RtpConfig.SessionBwKbps = 25
	}
	if !j.Exist("rtp.rtcp_min_interval_ms") {
		config.RtpConfig.RtcpMinIntervalMs = base.RtcpForceSendDurationMs
	}
	if !j.Exist("rtp.rtcp_force_send_interval_ms") {
		config.RtpConfig.RtcpForceSendIntervalMs = base.RtcpForceSendDurationMs
	}
	if !j.Exist("rtp.max_packet_size") {
		config.RtpConfig.MaxPacketSize = base.MaxRtpPacketSize
	}
	if !j.Exist("udp.port_min") {
		config.UdpConfig.PortMin = defaultUdpPortMin
	}
	if !j.Exist("udp.port_max") {
		config.UdpConfig.PortMax = defaultUdpPortMax
	}
	if !j.Exist("relay.addr") {
		config.RelayConfig.Addr = defaultRelayAddr
	}
	if !j.Exist("record.out_path") {
		config.RecordConfig.OutPath = defaultRecordPath
	}
	if !j.Exist("record.wait_key_frame") {
		config.RecordConfig.WaitKeyFrame = true
	}
	if !j.Exist("metrics.addr") {
		config.MetricsConfig.Addr = defaultMetricsAddr
	}
	if !j.Exist("metrics.path") {
		config.MetricsConfig.Path = defaultMetricsPath
	}

	if !j.Exist("log.level") {
		config.LogConfig.Level = nazalog.LevelDebug
	}
	if !j.Exist("log.filename") {
		config.LogConfig.Filename = defaultLogFilename
	}
	if !j.Exist("log.is_to_stdout") {
		config.LogConfig.IsToStdout = true
	}
	if !j.Exist("log.is_rotate_daily") {
		config.LogConfig.IsRotateDaily = true
	}
	if !j.Exist("log.short_file_flag") {
		config.LogConfig.ShortFileFlag = true
	}
	if !j.Exist("log.assert_behavior") {
		config.LogConfig.AssertBehavior = nazalog.AssertError
	}

	if err = config.check(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) check() error {
	if c.UdpConfig.PortMin >= c.UdpConfig.PortMax {
		return fmt.Errorf("invalid udp port range. min=%d, max=%d", c.UdpConfig.PortMin, c.UdpConfig.PortMax)
	}
	names := make(map[string]struct{})
	for i, sc := range c.SourceConfigs {
		if sc.Name == "" {
			return fmt.Errorf("%w. index=%d", base.ErrConfigSourceName, i)
		}
		if _, ok := names[sc.Name]; ok {
			return fmt.Errorf("%w. name=%s", base.ErrConfigSourceName, sc.Name)
		}
		names[sc.Name] = struct{}{}
		if sc.SdpFile == "" {
			return fmt.Errorf("%w. name=%s", base.ErrConfigSdpFile, sc.Name)
		}
		for _, port := range sc.RtpPorts {
			if port%2 != 0 {
				return fmt.Errorf("rtp port should be even. name=%s, port=%d", sc.Name, port)
			}
		}
	}
	return nil
}
