// Package http talks to the classroom reservation REST backend.
//
// Transport sends one JSON request and reports what came back; it never
// interprets status codes. AuthClient covers the unauthenticated account
// endpoints and Client covers everything else, routing authenticated calls
// through a Requester so that token refresh stays in one place.
//
// Endpoints consumed (all paths end with a slash):
//   - POST /api/auth/login/, /api/auth/refresh/, /api/auth/register/,
//     /api/auth/send_verification_email/, /api/auth/send_change_pwd/,
//     /api/auth/verify_change_pwd/
//   - GET /api/rooms/classrooms/buildings/, GET|POST /api/rooms/classrooms/,
//     PATCH|DELETE /api/rooms/classrooms/{room_code}/
//   - GET|POST /api/reservations/, GET /api/reservations/occupied/,
//     PATCH /api/reservations/{id}/status/, DELETE /api/reservations/{id}/cancel/
//   - GET /api/blacklist/check/, GET /api/blacklist/users/,
//     POST /api/blacklist/ban/, POST /api/blacklist/unban/
//
// Wire DTOs live next to the calls that use them in dto.go.
package http
