// Package infra contém os backends do cache e a seleção feita na inicialização.
//
//   - RedisStore: primário, via github.com/redis/go-redis/v9, chaves "<namespace>::<key>"
//   - MemoryStore: fallback local usado quando o Redis não sobe
//   - Select: tenta o primário e degrada para o fallback sem derrubar o processo
package infra
