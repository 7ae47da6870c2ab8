// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/lalrtp/pkg/rtsp"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

type ServerManagerOption struct {
	// Allocator 为nil时按配置的udp端口范围创建
	Allocator rtsp.IPortAllocator
}

type ModServerManagerOption func(option *ServerManagerOption)

type ServerManager struct {
	config *Config
	option ServerManagerOption

	registry *prometheus.Registry
	metrics  *rtsp.Metrics
	hub      *rtsp.RelayHub

	relayServer *rtsp.RelayServer
	httpServer  *http.Server
	metricsLn   net.Listener

	mutex    sync.Mutex
	groupMap map[string]*Group
}

func NewServerManager(config *Config, modOptions ...ModServerManagerOption) *ServerManager {
	var option ServerManagerOption
	for _, fn := range modOptions {
		fn(&option)
	}
	if option.Allocator == nil {
		option.Allocator = rtsp.NewUdpPortAllocator(config.UdpConfig.PortMin, config.UdpConfig.PortMax)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := rtsp.NewMetrics(registry)

	sm := &ServerManager{
		config:   config,
		option:   option,
		registry: registry,
		metrics:  metrics,
		hub:      rtsp.NewRelayHub(metrics),
		groupMap: make(map[string]*Group),
	}
	if config.RelayConfig.Enable {
		sm.relayServer = rtsp.NewRelayServer(config.RelayConfig.Addr, sm.hub)
	}
	return sm
}

// Start 启动所有的服务和源，任何一个失败都会返回错误，已经启动的部分需要调用 Shutdown 释放
func (sm *ServerManager) Start() error {
	if sm.relayServer != nil {
		if err := sm.relayServer.Listen(); err != nil {
			return err
		}
		go func() {
			if err := sm.relayServer.RunLoop(); err != nil {
				Log.Info(err)
			}
		}()
	}

	if sm.config.MetricsConfig.Enable {
		if err := sm.startMetricsServer(); err != nil {
			return err
		}
	}

	for _, sc := range sm.config.SourceConfigs {
		group := NewGroup(sc, sm.config.RtpConfig, sm.config.RecordConfig)
		if err := group.Open(groupDeps{
			allocator: sm.option.Allocator,
			hub:       sm.hub,
			metrics:   sm.metrics,
		}); err != nil {
			Log.Errorf("[%s] open group failed. err=%+v", group.UniqueKey, err)
			return err
		}
		sm.mutex.Lock()
		sm.groupMap[sc.Name] = group
		sm.mutex.Unlock()
	}
	Log.Infof("server manager started. groups=%d", len(sm.config.SourceConfigs))
	return nil
}

// RunLoop 启动后阻塞，直到ctx结束
func (sm *ServerManager) RunLoop(ctx context.Context) error {
	if err := sm.Start(); err != nil {
		return err
	}

	go base.RunSignalHandler(ctx, sm.LogStat)

	t := time.NewTicker(time.Duration(logStatIntervalSec) * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			sm.mutex.Lock()
			Log.Infof("group size=%d, relay stream size=%d", len(sm.groupMap), sm.hub.StreamCount())
			sm.mutex.Unlock()
		}
	}
}

// Shutdown 停止接收，关闭录制文件，关闭所有的relay订阅者以及http服务
//
// ctx结束时不再等待，返回ctx的错误
func (sm *ServerManager) Shutdown(ctx context.Context) error {
	Log.Debug("shutdown server manager.")
	if sm.relayServer != nil {
		sm.relayServer.Dispose()
	}

	sm.mutex.Lock()
	groups := sm.groupMap
	sm.groupMap = make(map[string]*Group)
	sm.mutex.Unlock()

	var errs []error
	for _, group := range groups {
		errs = append(errs, group.Dispose())
	}

	errs = append(errs, sm.hub.Shutdown(ctx))

	if sm.httpServer != nil {
		if err := sm.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	return nazaerrors.CombineErrors(errs...)
}

func (sm *ServerManager) GetGroup(name string) *Group {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return sm.groupMap[name]
}

// GetRelayStream 不增加引用计数
func (sm *ServerManager) GetRelayStream(name string) (*rtsp.RelayStream, error) {
	return sm.hub.Lookup(name)
}

func (sm *ServerManager) Registry() *prometheus.Registry {
	return sm.registry
}

// RelayAddr relay未开启时返回nil
func (sm *ServerManager) RelayAddr() net.Addr {
	if sm.relayServer == nil {
		return nil
	}
	return sm.relayServer.Addr()
}

// MetricsAddr metrics未开启时返回nil
func (sm *ServerManager) MetricsAddr() net.Addr {
	if sm.metricsLn == nil {
		return nil
	}
	return sm.metricsLn.Addr()
}

// LogStat 收到SIGUSR1时调用
func (sm *ServerManager) LogStat() {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	for _, group := range sm.groupMap {
		group.LogStat()
	}
}

func (sm *ServerManager) startMetricsServer() (err error) {
	if sm.metricsLn, err = net.Listen("tcp", sm.config.MetricsConfig.Addr); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(sm.config.MetricsConfig.Path, promhttp.HandlerFor(sm.registry, promhttp.HandlerOpts{}))
	sm.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	Log.Infof("start metrics server listen. addr=%s, path=%s", sm.metricsLn.Addr().String(), sm.config.MetricsConfig.Path)
	go func() {
		if err := sm.httpServer.Serve(sm.metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Log.Error(err)
		}
	}()
	return nil
}
