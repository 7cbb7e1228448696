// Package store 是基础设施层：core.Store 与 core.CatalogStore 的实现。
//
// KV 后端（checkpoint 块存储、热门池缓存）：
//
//	var s core.Store = store.NewMemoryStore()
//	s, err := store.NewRedisStore(ctx, store.RedisConfig{Addr: "localhost:6379"})
//	s, err := store.OpenBadgerStore("/var/lib/movierec/kv")
//
// 目录存储：
//
//	var c core.CatalogStore = store.NewMemoryCatalog()
//	c, err := store.NewPostgresCatalog(ctx, dsn)
package store
