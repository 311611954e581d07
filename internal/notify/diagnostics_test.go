package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/courier/internal/channel"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/transport"
	"github.com/mattjoyce/courier/internal/transport/mocks"
)

func TestTestChannelMissing(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc, _ := newService(t, transport.Set{channel.TypeEmail: mocks.NewMockTransport(ctrl)}, nil)

	res := svc.TestChannel(context.Background(), "missing")
	assert.False(t, res.Success)
	assert.Equal(t, "missing", res.ChannelID)
	assert.Equal(t, "Channel not found", res.Error)
	assert.Contains(t, res.Error, "not found")
	assert.Zero(t, totalSent(t, svc))
}

func TestTestChannelProbes(t *testing.T) {
	ctrl := gomock.NewController(t)
	email := mocks.NewMockTransport(ctrl)
	hub := events.NewHub(8)

	svc, _ := newService(t, transport.Set{channel.TypeEmail: email}, func(o *Options) {
		o.Channels = []channel.Channel{emailChannel("ok", true), emailChannel("bad", true), emailChannel("off", false)}
		o.Events = hub
	})

	email.EXPECT().Probe(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ch channel.Channel) error {
		if ch.ID == "bad" {
			return errors.New("smtp auth: 535 authentication failed")
		}
		return nil
	}).Times(3)
	email.EXPECT().Send(gomock.Any(), gomock.Any()).Times(0)

	ok := svc.TestChannel(context.Background(), "ok")
	assert.True(t, ok.Success)
	assert.Empty(t, ok.Error)

	bad := svc.TestChannel(context.Background(), "bad")
	assert.False(t, bad.Success)
	assert.Equal(t, "smtp auth: 535 authentication failed", bad.Error)

	off := svc.TestChannel(context.Background(), "off")
	assert.True(t, off.Success)

	assert.Zero(t, totalSent(t, svc))
	assert.Len(t, hub.SnapshotSince(0), 3)
}

func TestTestChannelProbePanic(t *testing.T) {
	ctrl := gomock.NewController(t)
	email := mocks.NewMockTransport(ctrl)
	email.EXPECT().Probe(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, channel.Channel) error {
		panic("boom")
	})
	svc, _ := newService(t, transport.Set{channel.TypeEmail: email}, func(o *Options) {
		o.Channels = []channel.Channel{emailChannel("email-1", true)}
	})

	res := svc.TestChannel(context.Background(), "email-1")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")
}

func TestTestChannelMissingTransport(t *testing.T) {
	svc, _ := newService(t, transport.Set{}, func(o *Options) {
		o.Channels = []channel.Channel{webhookChannel("hook-1")}
	})
	res := svc.TestChannel(context.Background(), "hook-1")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no transport")
}
