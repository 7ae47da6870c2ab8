// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

// 版本，该变量由外部脚本修改维护
const LalRtpVersion = "v0.3.0"

var (
	LalRtpLibraryName = "lalrtp"
	LalRtpGithubRepo  = "github.com/q191201771/lalrtp"
	LalRtpGithubSite  = "https://github.com/q191201771/lalrtp"

	// e.g. lalrtp v0.3.0 (github.com/q191201771/lalrtp)
	LalRtpFullInfo = LalRtpLibraryName + " " + LalRtpVersion + " (" + LalRtpGithubRepo + ")"
)
