package main

import (
	"testing"

	"github.com/John-Robertt/AVSort/internal/config"
	"github.com/John-Robertt/AVSort/internal/domain"
)

func TestSourceChain(t *testing.T) {
	got := sourceChain([]config.Source{
		{ID: "alpha", URL: "https://alpha.test/{code}"},
		{ID: "beta", URL: "https://beta.test/{code}"},
	})
	if got != "alpha -> beta" {
		t.Fatalf("来源链不符合预期：%q", got)
	}
	if sourceChain(nil) != "(无)" {
		t.Fatalf("空来源应有占位输出")
	}
}

func TestStatusLabel(t *testing.T) {
	if statusLabel(domain.StatusPartial) != "PARTIAL" {
		t.Fatalf("partial 标签不对")
	}
	if statusLabel(domain.StatusCollided) != "COLLIDE" {
		t.Fatalf("collided 标签不对")
	}
	if statusLabel("something") != "SOMETHING" {
		t.Fatalf("未知状态应原样大写")
	}
}
