package cmd

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/luma/arcade/game"
	"github.com/luma/arcade/ledger"
)

// adminAPI exposes the operator surface over HTTP: user and item
// management, session inspection and dev-ledger funding. It replaces
// nothing a game client can do, only what an operator console would.
type adminAPI struct {
	server *game.Server
	db     *game.GameDB
	wallet *ledger.Wallet
	// dev is nil when settling against a real ledger node.
	dev *ledger.DevLedger
	log *zap.Logger
}

func (a *adminAPI) registerRoutes(r *gin.Engine) {
	r.GET("/health", a.health)
	r.GET("/ping", a.health)

	r.GET("/sessions", a.listSessions)
	r.POST("/sessions/ping", a.pingSessions)

	r.GET("/users", a.listUsers)
	r.POST("/users", a.createUser)
	r.DELETE("/users/:uid", a.deleteUser)

	r.GET("/items", a.listItems)
	r.POST("/items", a.createItem)
	r.PUT("/items/:code/price", a.updateItemPrice)
	r.DELETE("/items/:code", a.deleteItem)
	r.POST("/items/:code/issue", a.issueItem)
	r.POST("/items/:code/withdraw", a.withdrawItem)

	r.GET("/market", a.listMarket)

	r.POST("/coins", a.fundCoins)
}

func (a *adminAPI) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *adminAPI) listSessions(c *gin.Context) {
	sessions := a.server.Connections()

	out := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, gin.H{
			"id":     s.ID(),
			"remote": s.Remote(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (a *adminAPI) pingSessions(c *gin.Context) {
	if err := a.server.PingAll(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *adminAPI) listUsers(c *gin.Context) {
	users, err := a.db.Users.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		out = append(out, gin.H{
			"uid":          u.UID,
			"address":      a.wallet.UserAddress(u.UID),
			"registerDate": u.RegisterDate,
		})
	}

	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (a *adminAPI) createUser(c *gin.Context) {
	var body struct {
		UID      string `json:"uid" binding:"required"`
		Passcode string `json:"passcode" binding:"required"`
	}

	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := a.db.Users.Insert(c.Request.Context(), body.UID, game.HashPasscode(body.Passcode))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, game.ErrUserExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	a.log.Info("User created", zap.String("uid", user.UID))

	c.JSON(http.StatusCreated, gin.H{
		"uid":     user.UID,
		"address": a.wallet.UserAddress(user.UID),
	})
}

func (a *adminAPI) deleteUser(c *gin.Context) {
	uid := c.Param("uid")

	if err := a.db.Users.Delete(c.Request.Context(), uid); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, game.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *adminAPI) listItems(c *gin.Context) {
	items, err := a.db.Items.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(items))
	for _, item := range items {
		out = append(out, gin.H{
			"code":  item.Code,
			"name":  item.Name,
			"price": item.Price.String(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"items": out})
}

func (a *adminAPI) createItem(c *gin.Context) {
	var body struct {
		Name  string `json:"name" binding:"required"`
		Price string `json:"price" binding:"required"`
	}

	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := a.db.Items.Insert(c.Request.Context(), body.Name, price)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, game.ErrItemExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	a.log.Info("Item created",
		zap.String("code", item.Code),
		zap.String("name", item.Name),
		zap.String("price", item.Price.String()))

	c.JSON(http.StatusCreated, gin.H{
		"code":  item.Code,
		"name":  item.Name,
		"price": item.Price.String(),
	})
}

func (a *adminAPI) updateItemPrice(c *gin.Context) {
	var body struct {
		Price string `json:"price" binding:"required"`
	}

	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.db.Items.UpdatePrice(c.Request.Context(), c.Param("code"), price); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, game.ErrUnknownItem) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *adminAPI) deleteItem(c *gin.Context) {
	if err := a.db.Items.Delete(c.Request.Context(), c.Param("code")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, game.ErrUnknownItem) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// issueItem grants an item to a user without payment. Operator-only,
// game clients buy through the shop.
func (a *adminAPI) issueItem(c *gin.Context) {
	var body struct {
		UID string `json:"uid" binding:"required"`
	}

	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	code := c.Param("code")

	if _, err := a.db.Items.Select(ctx, code); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	inventory, err := a.db.Inventories.Select(ctx, body.UID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	inventory.Add(code)

	if err := a.db.Inventories.Update(ctx, body.UID, inventory); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "count": len(inventory)})
}

func (a *adminAPI) withdrawItem(c *gin.Context) {
	var body struct {
		UID string `json:"uid" binding:"required"`
	}

	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	code := c.Param("code")

	inventory, err := a.db.Inventories.Select(ctx, body.UID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !inventory.Remove(code) {
		c.JSON(http.StatusNotFound, gin.H{"error": game.ErrNotOwned.Error()})
		return
	}

	if err := a.db.Inventories.Update(ctx, body.UID, inventory); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "count": len(inventory)})
}

func (a *adminAPI) listMarket(c *gin.Context) {
	listings, err := a.db.Market.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(listings))
	for _, l := range listings {
		out = append(out, gin.H{
			"order":    l.Order,
			"seller":   l.Seller,
			"itemcode": l.ItemCode,
			"itemname": l.ItemName,
			"price":    l.Price.String(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"listings": out})
}

// fundCoins credits a user's dev-ledger account. Against a real
// ledger node coins move on chain and this endpoint refuses.
func (a *adminAPI) fundCoins(c *gin.Context) {
	if a.dev == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "funding requires the dev ledger"})
		return
	}

	var body struct {
		UID    string `json:"uid" binding:"required"`
		Amount string `json:"amount" binding:"required"`
	}

	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	address := a.wallet.UserAddress(body.UID)
	a.dev.Fund(a.wallet.UserKey(body.UID), address, ledger.ToBeryl(amount))

	balance, err := a.dev.Balance(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	a.log.Info("Funded account",
		zap.String("uid", body.UID),
		zap.String("address", address),
		zap.String("amount", amount.String()))

	c.JSON(http.StatusOK, gin.H{
		"address": address,
		"balance": ledger.ToCoin(balance).String(),
	})
}
