//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/jovemexausto/zupa/log"
)

// loggerAdapter routes watermill logs to the zupa logger. Info is demoted to
// debug; gochannel is chatty.
type loggerAdapter struct {
	fields watermill.LogFields
}

func (l loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	log.Errorf("watermill: %s: %v%s", msg, err, l.format(fields))
}

func (l loggerAdapter) Info(msg string, fields watermill.LogFields) {
	log.Debugf("watermill: %s%s", msg, l.format(fields))
}

func (l loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	log.Debugf("watermill: %s%s", msg, l.format(fields))
}

func (l loggerAdapter) Trace(string, watermill.LogFields) {}

func (l loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return loggerAdapter{fields: l.fields.Add(fields)}
}

func (l loggerAdapter) format(fields watermill.LogFields) string {
	all := l.fields.Add(fields)
	if len(all) == 0 {
		return ""
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, all[k])
	}
	return b.String()
}
