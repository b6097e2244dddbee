// Package gateway expõe a superfície HTTP do gateway de filmes.
//
// Rotas:
//
//   - GET    /ghibli/films            listagem completa (chave de cache "allFilms")
//   - GET    /ghibli/films/{id}       um filme (chave de cache = id)
//   - GET    /ghibli/cache/stats      estatísticas do cache ativo
//   - DELETE /ghibli/cache/clear      limpa o cache
//   - GET    /ghibli/admission/stats  totais do controle de admissão
//   - GET    /health                  liveness
//
// As rotas administrativas exigem "Authorization: Bearer <token>" quando um token
// é configurado. O controle de admissão não é feito aqui: o BoundaryFilter de
// middleware/ratelimit envolve o router inteiro.
package gateway
