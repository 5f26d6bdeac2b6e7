// Package signaling implements the WebSocket relay that lets browsers exchange
// WebRTC session descriptions and ICE candidates with the other members of a
// room.
//
// Clients authenticate with a JWT in the "token" query parameter, join a room
// with a join-room message, and then every offer, answer or ice-candidate they
// send is forwarded unchanged to the rest of the room. The relay never looks
// inside negotiation payloads.
package signaling
