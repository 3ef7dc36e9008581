// Package repository define los contratos de dominio del core de account linking.
//
// Las interfaces representan capacidades de storage, independientes del motor
// subyacente (PostgreSQL, memoria). Las implementaciones viven en
// internal/store/adapters/.
//
// Arquitectura:
//
//	┌─────────────────────────────────────────────────────┐
//	│   accountlinking / bulkimport / session services    │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│        domain/repository (Storage + Tx)             │
//	│  LinkingRepository, UserIDMappingRepository, ...    │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	              ┌─────────┴─────────┐
//	              ▼                   ▼
//	       ┌─────────────┐     ┌─────────────┐
//	       │  adapters/  │     │  adapters/  │
//	       │     pg      │     │   memory    │
//	       └─────────────┘     └─────────────┘
//
// Convenciones:
//   - AppID se pasa explícitamente; un Storage puede alojar varias apps.
//   - Context siempre es el primer parámetro.
//   - Toda mutación ocurre dentro de Storage.InTx.
//   - Errores de dominio están en errors.go.
package repository
