package svc

import "errors"

// ErrNoFeedsEnabled: 配置的 feed 没有对应的适配器
var ErrNoFeedsEnabled = errors.New("no price feed enabled")

// ErrStorageInitFailed 存储层初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")
