// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lalrtp
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/q191201771/lalrtp/pkg/base"
	"github.com/q191201771/lalrtp/pkg/logic"
	"github.com/q191201771/naza/pkg/bininfo"
)

func main() {
	confFile := parseFlag()
	if err := logic.Entry(confFile); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "lalrtp exit. err=%+v\n", err)
		os.Exit(1)
	}
}

func parseFlag() string {
	binInfoFlag := flag.Bool("v", false, "show bin info")
	cf := flag.String("c", "", "specify conf file")
	flag.Parse()
	if *binInfoFlag {
		_, _ = fmt.Fprint(os.Stderr, bininfo.StringifyMultiLine())
		_, _ = fmt.Fprintln(os.Stderr, base.LalRtpFullInfo)
		os.Exit(0)
	}
	if *cf == "" {
		flag.Usage()
		_, _ = fmt.Fprintf(os.Stderr, `
Example:
  ./bin/lalrtp -c ./conf/lalrtp.conf.json
`)
		os.Exit(1)
	}
	return *cf
}
