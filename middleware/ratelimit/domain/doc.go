// Package domain define contratos e tipos de domínio para controle de admissão
// (janela fixa por cliente) e limite de concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
package domain
