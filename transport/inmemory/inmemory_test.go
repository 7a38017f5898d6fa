//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jovemexausto/zupa/transport"
)

func TestRecordsSends(t *testing.T) {
	tr := New()
	ctx := context.Background()
	require.NoError(t, tr.SendTyping(ctx, "u1"))
	require.NoError(t, tr.SendText(ctx, "u1", "hello"))
	require.NoError(t, tr.SendVoice(ctx, "u1", "/tmp/out.mp3"))

	sent := tr.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, SentTyping, sent[0].Kind)
	assert.Equal(t, "hello", tr.SentOf(SentText)[0].Text)
	assert.Equal(t, "/tmp/out.mp3", tr.SentOf(SentVoice)[0].AudioPath)

	tr.Reset()
	assert.Empty(t, tr.Sent())
}

func TestFailSends(t *testing.T) {
	tr := New()
	boom := errors.New("offline")
	tr.FailSends(boom)
	assert.ErrorIs(t, tr.SendText(context.Background(), "u", "x"), boom)
	assert.Empty(t, tr.Sent())
	tr.FailSends(nil)
	assert.NoError(t, tr.SendText(context.Background(), "u", "x"))
}

func TestDeliverAndUnsubscribe(t *testing.T) {
	tr := New()
	var got []string
	unsub := tr.OnInbound(func(_ context.Context, m transport.InboundMessage) error {
		got = append(got, m.Body)
		return nil
	})
	tr.OnInbound(func(context.Context, transport.InboundMessage) error {
		return errors.New("second failed")
	})

	err := tr.Deliver(context.Background(), transport.InboundMessage{Body: "a"})
	assert.EqualError(t, err, "second failed")
	unsub()
	_ = tr.Deliver(context.Background(), transport.InboundMessage{Body: "b"})
	assert.Equal(t, []string{"a"}, got)
}

func TestAuthNotifications(t *testing.T) {
	tr := New()
	var codes []string
	ready := 0
	var failure error
	unsub := tr.OnAuthQR(func(c string) { codes = append(codes, c) })
	tr.OnAuthReady(func() { ready++ })
	tr.OnAuthFailure(func(err error) { failure = err })

	tr.EmitAuthQR("qr-1")
	unsub()
	tr.EmitAuthQR("qr-2")
	tr.EmitAuthReady()
	tr.EmitAuthFailure(errors.New("denied"))

	assert.Equal(t, []string{"qr-1"}, codes)
	assert.Equal(t, 1, ready)
	assert.EqualError(t, failure, "denied")
}

func TestIsVoice(t *testing.T) {
	assert.True(t, transport.InboundMessage{Kind: transport.KindVoice, MediaPath: "/a.ogg"}.IsVoice())
	assert.False(t, transport.InboundMessage{Kind: transport.KindVoice}.IsVoice())
	assert.False(t, transport.InboundMessage{Kind: transport.KindText, MediaPath: "/a.ogg"}.IsVoice())
}
