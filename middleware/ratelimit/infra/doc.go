// Package infra contém implementações concretas para os contratos do pacote domain.
//
//   - WindowTable: janelas fixas por cliente (sync.Map + mutex por janela) com janitor
//   - MemoryStatsStore / RedisStatsStore: estatísticas das decisões de admissão
//   - ChanPool: semáforo para limite de concorrência
package infra
