package auth

import "github.com/gofiber/fiber/v2"

const identityLocal = "auth_identity"

func SetIdentity(c *fiber.Ctx, identity *Identity) {
	c.Locals(identityLocal, identity)
}

func GetIdentity(c *fiber.Ctx) (*Identity, bool) {
	identity, ok := c.Locals(identityLocal).(*Identity)
	return identity, ok
}
