// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package sdp

import (
	"strconv"
	"strings"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/naza/pkg/nazaerrors"
)

type AFmtPBase struct {
	Format     int               // same as PayloadType
	Parameters map[string]string // name -> value
}

// ParseAFmtPBase 例子见单元测试
func ParseAFmtPBase(s string) (ret AFmtPBase, err error) {
	// rfc 3640 4.4.1.  The a=fmtp Keyword
	//
	// a=fmtp:<format> <parameter name>=<value>[; <parameter name>=<value>]
	//

	items := strings.SplitN(s, ":", 2)
	if len(items) != 2 {
		err = nazaerrors.Wrap(base.ErrSdpFmtp)
		return
	}
	return ParseFmtpValue(items[1])
}

// ParseFmtpValue 解析`a=fmtp:`之后的部分
func ParseFmtpValue(s string) (ret AFmtPBase, err error) {
	ret.Parameters = make(map[string]string)

	items := strings.SplitN(strings.TrimSpace(s), " ", 2)
	if len(items) != 2 {
		err = nazaerrors.Wrap(base.ErrSdpFmtp)
		return
	}

	ret.Format, err = strconv.Atoi(items[0])
	if err != nil {
		err = nazaerrors.Wrap(base.ErrSdpFmtp)
		return
	}

	// 见TestFmtpEdgeCase，首尾以及中间多余的分号
	for _, pp := range strings.Split(items[1], ";") {
		pp = strings.TrimSpace(pp)
		if pp == "" {
			continue
		}
		kv := strings.SplitN(pp, "=", 2)
		if len(kv) != 2 {
			err = nazaerrors.Wrap(base.ErrSdpFmtp)
			return
		}
		// 参数名大小写不敏感
		ret.Parameters[strings.ToLower(kv[0])] = kv[1]
	}

	return
}

func (a *AFmtPBase) Get(key string) (string, bool) {
	if a == nil {
		return "", false
	}
	v, ok := a.Parameters[strings.ToLower(key)]
	return v, ok
}

// GetInt 不存在时返回ErrSdpParamMiss
func (a *AFmtPBase) GetInt(key string) (int, error) {
	v, ok := a.Get(key)
	if !ok {
		return 0, base.NewErrSdpParamMiss(key)
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, nazaerrors.Wrap(base.ErrSdpFmtp)
	}
	return n, nil
}
