// Package ratelimit fornece os middlewares net/http da borda do gateway:
// controle de admissão por cliente (BoundaryFilter) e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos (janela do cliente, decisão, estatísticas)
//   - application: casos de uso (janela fixa, acquire com timeout) sem net/http
//   - infra: implementações concretas (tabela de janelas, stats em memória/Redis, semáforo)
//   - ratelimit (este pacote): middlewares HTTP, extração de chave e tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Se o path não começa com o prefixo protegido, segue direto
//  2. Extrai a chave do cliente (RemoteAddr; opcionalmente header/XFF)
//  3. Consulta o AdmissionController
//  4. Se rejeitado, responde 429 com corpo texto fixo; se não, chama o próximo handler
package ratelimit
